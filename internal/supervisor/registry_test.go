package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySingleBuildPerProject(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := reg.Begin(context.Background(), 1, "build-a")
	require.NoError(t, err)

	_, err = reg.Begin(context.Background(), 1, "build-b")
	assert.ErrorIs(t, err, ErrBuildInProgress)

	_, err = reg.Begin(context.Background(), 2, "build-c")
	assert.NoError(t, err, "other projects are independent")
}

func TestRegistryCancelFlipsContext(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	ctx, err := reg.Begin(context.Background(), 7, "build-a")
	require.NoError(t, err)
	require.NoError(t, ctx.Err())

	require.True(t, reg.Cancel(7))
	assert.Error(t, ctx.Err())
	assert.False(t, reg.Cancel(99), "unknown project")
}

func TestRegistryFinishReleasesSlot(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := reg.Begin(context.Background(), 3, "build-a")
	require.NoError(t, err)

	id, active := reg.Active(3)
	require.True(t, active)
	assert.Equal(t, "build-a", id)

	reg.Finish(3)
	_, active = reg.Active(3)
	assert.False(t, active)

	_, err = reg.Begin(context.Background(), 3, "build-b")
	assert.NoError(t, err)
}
