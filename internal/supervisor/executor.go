package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lumen-build/internal/ai"
	"lumen-build/internal/metrics"
	"lumen-build/internal/prompts"
)

const (
	maxStepAttempts = 3
	defaultBackoff  = 1500 * time.Millisecond
)

// Completer executes one logical model call, handling provider selection and
// fallback internally. Satisfied by ai.Router.
type Completer interface {
	CallWithFallback(ctx context.Context, req *ai.CompletionRequest) (*ai.CompletionResult, error)
}

// StepExecutor wraps every pipeline model call with instruction resolution,
// bounded retries and tracing. A run makes at most maxStepAttempts round
// trips per call; between attempts it waits a fixed backoff and notifies
// OnError with the failure and the number of attempts still available.
type StepExecutor struct {
	completer Completer
	resolver  *prompts.Resolver
	backoff   time.Duration
	log       *zap.Logger

	UserID    uint
	ProjectID uint

	// Language, when set to anything but English, appends a response
	// language directive to every resolved instruction.
	Language string

	// OnError fires after each failed attempt that will be retried.
	OnError func(message string, remaining int)

	// OnTrace fires after every round trip, success or failure.
	OnTrace func(TraceRecord)
}

func NewStepExecutor(completer Completer, resolver *prompts.Resolver, log *zap.Logger) *StepExecutor {
	return &StepExecutor{
		completer: completer,
		resolver:  resolver,
		backoff:   defaultBackoff,
		log:       log,
	}
}

// Run executes one staged model call and returns the extracted JSON payload.
// Configuration errors and cancellation abort immediately; transport and
// malformed-output errors are retried up to the attempt budget.
func (e *StepExecutor) Run(ctx context.Context, stage, prompt string, images []ai.Image) (json.RawMessage, error) {
	instruction, err := e.resolver.Resolve(ctx, stage)
	if err != nil {
		return nil, err
	}
	if e.Language != "" && e.Language != "en" {
		instruction = fmt.Sprintf("%s\n\nRespond in %s.", instruction, e.Language)
	}

	var lastErr error
	for attempt := 1; attempt <= maxStepAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ErrAborted
		}
		if attempt > 1 {
			metrics.Get().StepRetriesTotal.Inc()
			select {
			case <-time.After(e.backoff):
			case <-ctx.Done():
				return nil, ErrAborted
			}
			if ctx.Err() != nil {
				return nil, ErrAborted
			}
		}

		payload, err := e.attempt(ctx, stage, instruction, prompt, images, attempt)
		if err == nil {
			metrics.Get().StepAttempts.WithLabelValues(stage).Observe(float64(attempt))
			return payload, nil
		}
		if errors.Is(err, ErrAborted) || ctx.Err() != nil {
			return nil, ErrAborted
		}
		lastErr = err
		e.log.Warn("step attempt failed",
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < maxStepAttempts && e.OnError != nil {
			e.OnError(err.Error(), maxStepAttempts-attempt)
		}
	}

	metrics.Get().StepAttempts.WithLabelValues(stage).Observe(float64(maxStepAttempts))
	return nil, fmt.Errorf("stage %s failed after %d attempts: %w", stage, maxStepAttempts, lastErr)
}

// RunInto runs the stage and decodes the extracted JSON into v.
func (e *StepExecutor) RunInto(ctx context.Context, stage, prompt string, images []ai.Image, v any) error {
	payload, err := e.Run(ctx, stage, prompt, images)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s result: %w", stage, err)
	}
	return nil
}

func (e *StepExecutor) attempt(ctx context.Context, stage, instruction, prompt string, images []ai.Image, attempt int) (json.RawMessage, error) {
	req := &ai.CompletionRequest{
		Operation:         stage,
		Prompt:            prompt,
		SystemInstruction: instruction,
		Images:            images,
		UserID:            e.UserID,
		ProjectID:         e.ProjectID,
	}

	result, err := e.completer.CallWithFallback(ctx, req)
	trace := TraceRecord{
		Stage:             stage,
		Attempt:           attempt,
		SystemInstruction: instruction,
		Prompt:            prompt,
	}
	if result != nil {
		trace.Provider = result.Usage.Provider
		trace.Model = result.Usage.Model
		trace.Response = result.Text
		trace.Duration = result.Duration
		trace.OutputSize = len(result.Text)
	}
	if err != nil {
		trace.Err = err.Error()
		e.emitTrace(trace)
		return nil, err
	}

	payload, err := ai.ExtractJSON(result.Text)
	if err != nil {
		trace.Err = err.Error()
		e.emitTrace(trace)
		return nil, fmt.Errorf("stage %s: %w", stage, err)
	}
	e.emitTrace(trace)
	return payload, nil
}

func (e *StepExecutor) emitTrace(tr TraceRecord) {
	if e.OnTrace != nil {
		e.OnTrace(tr)
	}
}
