package model

import (
	"strings"
	"time"
)

// Job is the immutable job-posting data supplied by the caller at
// submission time. The daemon never mutates it.
type Job struct {
	// ID is the caller's job identifier (e.g., the posting id on the job board).
	ID string `json:"id"`
	// Title is the posting title.
	Title string `json:"title"`
	// Description is the full posting text as extracted by the caller.
	Description string `json:"description"`
	// Location is the posting location, if known.
	Location string `json:"location,omitempty"`
}

// Submission is one evaluation request as accepted by the scheduler.
type Submission struct {
	Job Job `json:"job"`
	// ResumeSelection lists resume ids to include in the prompt. Empty means
	// "send no resumes" (and the local provider never receives resumes).
	ResumeSelection []string `json:"resume_selection,omitempty"`
	// CacheKey identifies this evaluation for caching and notifications.
	// Distinct from Job.ID: the same job reached from a list view and a
	// direct view may carry different cache scoping.
	CacheKey string `json:"cache_key"`
	// CallbackContext is an opaque caller reference (e.g., a browser tab id)
	// echoed back in completion/failure notifications. Best-effort only.
	CallbackContext string `json:"callback_context,omitempty"`
}

// Verdict categories. Anything else coming back from a model is coerced
// to VerdictBorderline during normalization.
const (
	VerdictFavorable   = "favorable"
	VerdictBorderline  = "borderline"
	VerdictUnfavorable = "unfavorable"
)

// Result is the normalized output of one evaluation.
type Result struct {
	// Score is the relevance score, always clamped into [0,100].
	Score int `json:"score"`
	// Verdict is one of the Verdict* constants.
	Verdict string `json:"verdict"`
	// HardRejectReason is set when the model flags a disqualifier
	// (e.g., a required clearance the candidate lacks).
	HardRejectReason string `json:"hard_reject_reason,omitempty"`
	// Matches are the supporting match signals, in model order.
	Matches []string `json:"matches"`
	// Risks are the risk signals, in model order.
	Risks []string `json:"risks"`
	// BestResume is the label of the best-fitting resume, if the model named one.
	BestResume string `json:"best_resume,omitempty"`
	// Explanation is the model's free-text reasoning summary.
	Explanation string `json:"explanation,omitempty"`
	// Extra preserves unknown fields from the raw reply verbatim, for
	// debugging. Never treated as an error.
	Extra map[string]any `json:"extra,omitempty"`

	// Provider and Model record which backend produced this result.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	// Usage tracks token consumption when the provider reports it.
	Usage TokenUsage `json:"usage"`
	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// TokenUsage tracks LLM token consumption for a single evaluation.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// CanonicalVerdict maps a raw verdict string onto one of the three verdict
// categories. Models are prompted for "worth"/"maybe"/"skip" but drift into
// synonyms often enough that we accept a small alias set. Unknown values
// land on borderline rather than failing the evaluation.
func CanonicalVerdict(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "worth", "worth_applying", "yes", "strong", "good", "apply", VerdictFavorable:
		return VerdictFavorable
	case "skip", "no", "reject", "pass", "poor", VerdictUnfavorable:
		return VerdictUnfavorable
	case "maybe", "unsure", "mixed", "neutral", VerdictBorderline:
		return VerdictBorderline
	default:
		return VerdictBorderline
	}
}

// ClampScore clamps a raw numeric score into [0,100].
func ClampScore(raw float64) int {
	if raw < 0 {
		return 0
	}
	if raw > 100 {
		return 100
	}
	return int(raw + 0.5)
}
