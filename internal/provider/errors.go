package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Failure classification. The scheduler retries only ErrRateLimited;
// everything else is terminal for the task.
var (
	// ErrInvalidCredential means the provider rejected the API key.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrRateLimited means the provider is throttling (HTTP 429-equivalent).
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout means the call exceeded its deadline.
	ErrTimeout = errors.New("provider call timed out")
	// ErrUnreachable means the provider could not be reached at all.
	ErrUnreachable = errors.New("could not reach provider")
	// ErrMalformedReply means the provider answered but the reply was
	// structurally unusable (empty body, missing completion).
	ErrMalformedReply = errors.New("malformed provider reply")
)

// classifyStatus maps an HTTP status to a classified error. For the local
// provider, 401/403 does not mean "bad key" (there is no key): Ollama
// rejects requests whose Origin it does not trust, which is a
// configuration problem worth its own message.
func classifyStatus(name string, status int) error {
	switch {
	case status == 401 || status == 403:
		if IsLocal(name) {
			return fmt.Errorf("%w: %s rejected the request; check the local service's allowed-origins configuration (OLLAMA_ORIGINS)", ErrInvalidCredential, name)
		}
		return fmt.Errorf("%w: %s returned HTTP %d; check the stored API key", ErrInvalidCredential, name, status)
	case status == 429:
		return fmt.Errorf("%w by %s", ErrRateLimited, name)
	case status >= 200 && status < 300:
		return nil
	default:
		return fmt.Errorf("%s returned HTTP %d", name, status)
	}
}

// classifyTransport maps transport-level failures (no HTTP status at all).
func classifyTransport(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, name)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %s", ErrTimeout, name)
		}
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, name, err)
	}
	return fmt.Errorf("%s call failed: %w", name, err)
}
