package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen-build/pkg/models"
)

// fakeClient scripts one provider's behavior and counts calls.
type fakeClient struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeClient) Provider() string { return f.name }

func (f *fakeClient) Complete(ctx context.Context, apiKey, model string, req *CompletionRequest) (*CompletionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &CompletionResult{
		Text: f.text,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			CostUSD:          0.001,
			Provider:         f.name,
			Model:            model,
		},
		Duration: time.Millisecond,
	}, nil
}

// fakeConfigs is an in-memory ConfigSource and KeySource.
type fakeConfigs struct {
	active   *models.AIProviderConfig
	fallback *models.AIProviderConfig
}

func (f *fakeConfigs) Active(ctx context.Context) (*models.AIProviderConfig, error) {
	if f.active == nil {
		return nil, ErrNoActiveProvider
	}
	return f.active, nil
}

func (f *fakeConfigs) Fallback(ctx context.Context) (*models.AIProviderConfig, error) {
	return f.fallback, nil
}

func (f *fakeConfigs) DecryptKey(cfg *models.AIProviderConfig) (string, error) {
	return "test-key", nil
}

// recordedUsage captures Record calls in order.
type recordedUsage struct {
	ops    []string
	usages []Usage
}

func (r *recordedUsage) Record(ctx context.Context, userID, projectID uint, operation string, usage Usage, duration time.Duration) {
	r.ops = append(r.ops, operation)
	r.usages = append(r.usages, usage)
}

func cfg(id uint, provider string) *models.AIProviderConfig {
	return &models.AIProviderConfig{
		ID:               id,
		Name:             provider + "-test",
		Provider:         provider,
		Model:            "test-model",
		APIKeyCiphertext: "sealed",
	}
}

func TestExecuteUnknownProvider(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{}
	r := NewRouter(configs, configs, nil)
	_, err := r.Execute(context.Background(), cfg(1, "teapot"), &CompletionRequest{Operation: "classify"})
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestCallWithFallbackPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &fakeClient{name: ProviderClaude, text: `{"ok":true}`}
	secondary := &fakeClient{name: ProviderOpenAI, text: `{"ok":true}`}
	configs := &fakeConfigs{active: cfg(1, ProviderClaude), fallback: cfg(2, ProviderOpenAI)}
	rec := &recordedUsage{}

	r := NewRouter(configs, configs, rec)
	r.RegisterClient(primary)
	r.RegisterClient(secondary)

	result, err := r.CallWithFallback(context.Background(), &CompletionRequest{Operation: "design"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, result.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls, "fallback must not be called when primary succeeds")
	require.Equal(t, []string{"design"}, rec.ops)
	assert.Equal(t, ProviderClaude, rec.usages[0].Provider)
}

func TestCallWithFallbackUsesFallbackOnce(t *testing.T) {
	t.Parallel()

	primary := &fakeClient{name: ProviderClaude, err: errors.New("boom")}
	secondary := &fakeClient{name: ProviderOpenAI, text: `{"rescued":true}`}
	configs := &fakeConfigs{active: cfg(1, ProviderClaude), fallback: cfg(2, ProviderOpenAI)}
	rec := &recordedUsage{}

	r := NewRouter(configs, configs, rec)
	r.RegisterClient(primary)
	r.RegisterClient(secondary)

	result, err := r.CallWithFallback(context.Background(), &CompletionRequest{Operation: "build_step"})
	require.NoError(t, err)
	assert.Equal(t, `{"rescued":true}`, result.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
	require.Equal(t, []string{"build_step_fallback"}, rec.ops)
	assert.Equal(t, ProviderOpenAI, rec.usages[0].Provider)
}

func TestCallWithFallbackBothFail(t *testing.T) {
	t.Parallel()

	primary := &fakeClient{name: ProviderClaude, err: errors.New("primary down")}
	secondary := &fakeClient{name: ProviderOpenAI, err: errors.New("fallback down")}
	configs := &fakeConfigs{active: cfg(1, ProviderClaude), fallback: cfg(2, ProviderOpenAI)}
	rec := &recordedUsage{}

	r := NewRouter(configs, configs, rec)
	r.RegisterClient(primary)
	r.RegisterClient(secondary)

	_, err := r.CallWithFallback(context.Background(), &CompletionRequest{Operation: "repair"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "fallback down")
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
	assert.Empty(t, rec.ops, "usage must not be recorded when no provider answered")
}

func TestCallWithFallbackNoFallbackCredentials(t *testing.T) {
	t.Parallel()

	primary := &fakeClient{name: ProviderClaude, err: errors.New("primary down")}
	secondary := &fakeClient{name: ProviderOpenAI, text: "never called"}
	noCreds := cfg(2, ProviderOpenAI)
	noCreds.APIKeyCiphertext = ""
	configs := &fakeConfigs{active: cfg(1, ProviderClaude), fallback: noCreds}

	r := NewRouter(configs, configs, nil)
	r.RegisterClient(primary)
	r.RegisterClient(secondary)

	_, err := r.CallWithFallback(context.Background(), &CompletionRequest{Operation: "classify"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Equal(t, 0, secondary.calls)
}

func TestCallWithFallbackNoActiveConfig(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{}
	r := NewRouter(configs, configs, nil)
	_, err := r.CallWithFallback(context.Background(), &CompletionRequest{Operation: "classify"})
	assert.True(t, errors.Is(err, ErrNoActiveProvider))
}
