// Package preview defines the runtime-validation boundary. The preview
// surface itself (the sandbox that loads a file set and runs it) is a
// separate system; the supervisor only asks it one question: did the current
// file set boot and render within the timeout.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lumen-build/internal/logging"
)

// Result is the validator's answer.
type Result struct {
	Success bool   `json:"success"`
	Health  string `json:"health,omitempty"` // healthy, blank, error
	Error   string `json:"error,omitempty"`
}

// Validator is the contract the supervisor consumes. Any conforming
// implementation (embedded interpreter, headless browser, compiled sandbox)
// satisfies it.
type Validator interface {
	WaitForPreview(ctx context.Context, projectID uint, timeout time.Duration) Result
}

// HTTPValidator polls the preview surface's health endpoint until it reports
// a terminal health or the timeout lapses.
type HTTPValidator struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewHTTPValidator creates a validator against the preview surface at
// baseURL (e.g. http://preview:9000).
func NewHTTPValidator(baseURL string) *HTTPValidator {
	return &HTTPValidator{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        logging.Named("preview"),
	}
}

type healthResponse struct {
	Health string `json:"health"`
	Error  string `json:"error"`
}

// WaitForPreview implements Validator.
func (v *HTTPValidator) WaitForPreview(ctx context.Context, projectID uint, timeout time.Duration) Result {
	deadline := time.Now().Add(timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	url := fmt.Sprintf("%s/api/preview/%d/health", v.baseURL, projectID)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastErr := "preview did not respond before the timeout"
	for {
		if res, done := v.poll(pollCtx, url); done {
			return res
		} else if res.Error != "" {
			lastErr = res.Error
		}

		select {
		case <-pollCtx.Done():
			return Result{Success: false, Health: "error", Error: lastErr}
		case <-ticker.C:
		}
	}
}

// poll performs one health probe. done is true only on a terminal answer.
func (v *HTTPValidator) poll(ctx context.Context, url string) (Result, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Error: err.Error()}, false
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Result{Error: err.Error()}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Error: fmt.Sprintf("preview health returned status %d", resp.StatusCode)}, false
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return Result{Error: err.Error()}, false
	}

	switch health.Health {
	case "healthy":
		return Result{Success: true, Health: "healthy"}, true
	case "blank":
		// A blank render is a validation failure, not a pending state.
		return Result{Success: false, Health: "blank", Error: "Preview rendered blank."}, true
	case "error":
		msg := health.Error
		if msg == "" {
			msg = "preview reported a runtime error"
		}
		return Result{Success: false, Health: "error", Error: msg}, true
	default:
		// Still booting.
		return Result{}, false
	}
}
