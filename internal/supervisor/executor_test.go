package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lumen-build/internal/ai"
	"lumen-build/internal/prompts"
)

// scriptedCompleter returns queued responses per operation label and counts
// calls. An empty queue repeats the last response.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string][]error
	calls     map[string]int
	requests  map[string][]*ai.CompletionRequest
}

func newScriptedCompleter() *scriptedCompleter {
	return &scriptedCompleter{
		responses: make(map[string][]string),
		errs:      make(map[string][]error),
		calls:     make(map[string]int),
		requests:  make(map[string][]*ai.CompletionRequest),
	}
}

func (c *scriptedCompleter) respond(op string, bodies ...string) {
	c.responses[op] = append(c.responses[op], bodies...)
}

func (c *scriptedCompleter) fail(op string, errs ...error) {
	c.errs[op] = append(c.errs[op], errs...)
}

func (c *scriptedCompleter) callCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *scriptedCompleter) lastRequest(t *testing.T, op string) *ai.CompletionRequest {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	reqs := c.requests[op]
	require.NotEmpty(t, reqs, "no recorded request for %s", op)
	return reqs[len(reqs)-1]
}

func (c *scriptedCompleter) CallWithFallback(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[req.Operation]++
	c.requests[req.Operation] = append(c.requests[req.Operation], req)
	if queue := c.errs[req.Operation]; len(queue) > 0 {
		err := queue[0]
		c.errs[req.Operation] = queue[1:]
		return nil, err
	}
	queue := c.responses[req.Operation]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for %s", req.Operation)
	}
	body := queue[0]
	if len(queue) > 1 {
		c.responses[req.Operation] = queue[1:]
	}
	return &ai.CompletionResult{
		Text:     body,
		Usage:    ai.Usage{Provider: "claude", Model: "test-model"},
		Duration: time.Millisecond,
	}, nil
}

// staticPrompts satisfies prompts.Store with a canned instruction per stage.
type staticPrompts struct{}

func (staticPrompts) Instruction(_ context.Context, stageKey string) (string, error) {
	return "Instructions for " + stageKey + ".", nil
}

func newTestExecutor(completer Completer) *StepExecutor {
	exec := NewStepExecutor(completer, prompts.NewResolver(staticPrompts{}, prompts.NewCache()), zap.NewNop())
	exec.backoff = time.Millisecond
	return exec
}

func TestStepExecutorFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()

	completer := newScriptedCompleter()
	completer.respond(prompts.StageClassify, `{"intent":"chat"}`)
	exec := newTestExecutor(completer)

	var errorCalls int
	exec.OnError = func(string, int) { errorCalls++ }

	payload, err := exec.Run(context.Background(), prompts.StageClassify, "hello", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"intent":"chat"}`, string(payload))
	assert.Equal(t, 1, completer.callCount(prompts.StageClassify))
	assert.Zero(t, errorCalls)
}

func TestStepExecutorRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	completer := newScriptedCompleter()
	completer.fail(prompts.StageBuildStep, errors.New("upstream timeout"), errors.New("upstream timeout"))
	completer.respond(prompts.StageBuildStep, `{"changes":[]}`)
	exec := newTestExecutor(completer)

	var remaining []int
	exec.OnError = func(_ string, r int) { remaining = append(remaining, r) }

	_, err := exec.Run(context.Background(), prompts.StageBuildStep, "build it", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, completer.callCount(prompts.StageBuildStep))
	assert.Equal(t, []int{2, 1}, remaining)
}

func TestStepExecutorExhaustsAttempts(t *testing.T) {
	t.Parallel()

	completer := newScriptedCompleter()
	completer.fail(prompts.StageBuildStep,
		errors.New("boom"), errors.New("boom"), errors.New("boom"), errors.New("boom"))
	exec := newTestExecutor(completer)

	var errorCalls int
	exec.OnError = func(string, int) { errorCalls++ }

	_, err := exec.Run(context.Background(), prompts.StageBuildStep, "build it", nil)
	require.Error(t, err)
	assert.Equal(t, 3, completer.callCount(prompts.StageBuildStep), "attempt budget is three round trips")
	assert.Equal(t, 2, errorCalls, "one notification per retried failure")
}

func TestStepExecutorMalformedOutputRetried(t *testing.T) {
	t.Parallel()

	completer := newScriptedCompleter()
	completer.respond(prompts.StageDesign, "I cannot produce JSON today", `{"app_name":"ok"}`)
	exec := newTestExecutor(completer)

	payload, err := exec.Run(context.Background(), prompts.StageDesign, "design", nil)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "app_name")
	assert.Equal(t, 2, completer.callCount(prompts.StageDesign))
}

func TestStepExecutorCancelledBeforeAttempt(t *testing.T) {
	t.Parallel()

	completer := newScriptedCompleter()
	completer.respond(prompts.StageClassify, `{"intent":"chat"}`)
	exec := newTestExecutor(completer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Run(ctx, prompts.StageClassify, "hello", nil)
	require.ErrorIs(t, err, ErrAborted)
	assert.Zero(t, completer.callCount(prompts.StageClassify), "no provider call after cancellation")
}

func TestStepExecutorTraceCarriesFullExchange(t *testing.T) {
	t.Parallel()

	completer := newScriptedCompleter()
	completer.fail(prompts.StageDesign, errors.New("upstream timeout"))
	completer.respond(prompts.StageDesign, `{"app_name":"ok"}`)
	exec := newTestExecutor(completer)

	var traces []TraceRecord
	exec.OnTrace = func(tr TraceRecord) { traces = append(traces, tr) }

	_, err := exec.Run(context.Background(), prompts.StageDesign, "design a notes app", nil)
	require.NoError(t, err)
	require.Len(t, traces, 2, "one trace per round trip")

	failed := traces[0]
	assert.Equal(t, "Instructions for design.", failed.SystemInstruction)
	assert.Equal(t, "design a notes app", failed.Prompt)
	assert.Empty(t, failed.Response)
	assert.Equal(t, "upstream timeout", failed.Err)

	ok := traces[1]
	assert.Equal(t, "Instructions for design.", ok.SystemInstruction)
	assert.Equal(t, "design a notes app", ok.Prompt)
	assert.Equal(t, `{"app_name":"ok"}`, ok.Response)
	assert.Equal(t, "claude", ok.Provider)
	assert.Equal(t, "test-model", ok.Model)
	assert.Empty(t, ok.Err)
}

type missingPrompts struct{}

func (missingPrompts) Instruction(context.Context, string) (string, error) {
	return "", prompts.ErrMissingConfiguration
}

func TestStepExecutorMissingInstructionFailsHard(t *testing.T) {
	t.Parallel()

	completer := newScriptedCompleter()
	exec := NewStepExecutor(completer, prompts.NewResolver(missingPrompts{}, prompts.NewCache()), zap.NewNop())
	exec.backoff = time.Millisecond

	_, err := exec.Run(context.Background(), prompts.StageClassify, "hello", nil)
	require.ErrorIs(t, err, prompts.ErrMissingConfiguration)
	assert.Zero(t, completer.callCount(prompts.StageClassify))
}
