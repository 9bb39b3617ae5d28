// Package notify broadcasts task-lifecycle events to whoever is
// listening: the SSE endpoint, the TUI dashboard, tests.
//
// Publishing is fire-and-forget. Zero subscribers is fine, a gone
// subscriber is fine; the result cache write always happens before the
// broadcast, so a missed notification loses only the real-time notice,
// never the outcome.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/jobfit-sh/jobfit/internal/model"
)

// Event kinds.
const (
	KindRateLimited = "rate_limited"
	KindCompleted   = "completed"
	KindFailed      = "failed"
)

// Event is one task-lifecycle notification.
type Event struct {
	Kind     string `json:"event"`
	CacheKey string `json:"cache_key"`
	JobID    string `json:"job_id"`

	// AttemptCount and Provider are set on rate_limited events so a UI
	// can show retry progress.
	AttemptCount int    `json:"attempt_count,omitempty"`
	Provider     string `json:"provider,omitempty"`

	// Result is set on completed events.
	Result *model.Result `json:"result,omitempty"`
	// Reason is set on failed events.
	Reason string `json:"reason,omitempty"`

	// CallbackContext echoes the submitter's opaque reference on
	// completed and failed events.
	CallbackContext string `json:"callback_context,omitempty"`

	TS time.Time `json:"ts"`
}

// Terminal reports whether this event ends the task's lifecycle.
func (e Event) Terminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindFailed
}

func (e Event) Validate() error {
	switch e.Kind {
	case KindRateLimited, KindCompleted, KindFailed:
	default:
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if strings.TrimSpace(e.CacheKey) == "" {
		return fmt.Errorf("cache key is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
