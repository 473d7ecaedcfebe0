package ai

import (
	"errors"
	"fmt"
)

// ErrProviderCallFailed wraps any network, auth, or quota failure from a
// provider backend. The router retries such failures once on the fallback
// provider; anything left bubbles into the step executor's retry loop.
var ErrProviderCallFailed = errors.New("provider call failed")

// providerStatusError maps non-200 provider responses onto readable errors.
func providerStatusError(provider string, status int, body []byte) error {
	var reason string
	switch status {
	case 401:
		reason = "invalid API key"
	case 402:
		reason = "quota exhausted"
	case 403:
		reason = "access denied, check key permissions"
	case 429:
		reason = "rate limit exceeded"
	case 500, 502, 503, 504, 529:
		reason = fmt.Sprintf("service temporarily unavailable (status %d)", status)
	default:
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		reason = fmt.Sprintf("status %d: %s", status, snippet)
	}
	return fmt.Errorf("%w: %s: %s", ErrProviderCallFailed, provider, reason)
}
