package prompts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts lookups per stage.
type countingStore struct {
	instructions map[string]string
	lookups      map[string]int
}

func (s *countingStore) Instruction(ctx context.Context, stageKey string) (string, error) {
	s.lookups[stageKey]++
	if inst, ok := s.instructions[stageKey]; ok {
		return inst, nil
	}
	return "", fmt.Errorf("%w: stage %q", ErrMissingConfiguration, stageKey)
}

func TestResolveCachesPerStage(t *testing.T) {
	t.Parallel()

	store := &countingStore{
		instructions: map[string]string{StageClassify: "You classify intents."},
		lookups:      make(map[string]int),
	}
	resolver := NewResolver(store, NewCache())

	for i := 0; i < 3; i++ {
		got, err := resolver.Resolve(context.Background(), StageClassify)
		require.NoError(t, err)
		assert.Equal(t, "You classify intents.", got)
	}
	assert.Equal(t, 1, store.lookups[StageClassify], "store hit once, cache after")
}

func TestResolveMissingStageFailsHard(t *testing.T) {
	t.Parallel()

	store := &countingStore{instructions: map[string]string{}, lookups: make(map[string]int)}
	resolver := NewResolver(store, NewCache())

	_, err := resolver.Resolve(context.Background(), StageRepair)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingConfiguration))

	// Failures are not cached: the store is consulted again.
	_, _ = resolver.Resolve(context.Background(), StageRepair)
	assert.Equal(t, 2, store.lookups[StageRepair])
}

func TestFreshCacheReResolves(t *testing.T) {
	t.Parallel()

	store := &countingStore{
		instructions: map[string]string{StageDesign: "v1"},
		lookups:      make(map[string]int),
	}

	r1 := NewResolver(store, NewCache())
	_, err := r1.Resolve(context.Background(), StageDesign)
	require.NoError(t, err)

	store.instructions[StageDesign] = "v2"
	got, err := r1.Resolve(context.Background(), StageDesign)
	require.NoError(t, err)
	assert.Equal(t, "v1", got, "no invalidation within one cache lifetime")

	r2 := NewResolver(store, NewCache())
	got, err = r2.Resolve(context.Background(), StageDesign)
	require.NoError(t, err)
	assert.Equal(t, "v2", got, "a fresh cache re-resolves from the store")
}
