package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jobfit-sh/jobfit/internal/model"
)

// knownFields is the schema the prompt asks for. Anything else found in
// the reply object is preserved under Result.Extra rather than discarded.
var knownFields = map[string]bool{
	"score":              true,
	"verdict":            true,
	"hard_reject_reason": true,
	"matches":            true,
	"risks":              true,
	"best_resume":        true,
	"explanation":        true,
}

const defaultScore = 50

// Normalize coerces a decoded reply object into a Result.
//
// Invariants: score is clamped into [0,100] and defaults to 50 when absent
// or non-numeric; verdict is always one of the three categories, defaulting
// to borderline; array fields default to empty, optional strings to "".
func Normalize(obj map[string]any) *model.Result {
	r := &model.Result{
		Score:            defaultScore,
		Verdict:          model.VerdictBorderline,
		Matches:          coerceStringSlice(obj["matches"]),
		Risks:            coerceStringSlice(obj["risks"]),
		HardRejectReason: coerceString(obj["hard_reject_reason"]),
		BestResume:       coerceString(obj["best_resume"]),
		Explanation:      coerceString(obj["explanation"]),
	}

	if score, ok := coerceFloat(obj["score"]); ok {
		r.Score = model.ClampScore(score)
	}
	if v := coerceString(obj["verdict"]); v != "" {
		r.Verdict = model.CanonicalVerdict(v)
	}

	for k, v := range obj {
		if knownFields[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[k] = v
	}

	return r
}

func coerceFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return ""
	}
}

func coerceStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch val := item.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			// Some models emit {"point": "..."} objects instead of bare
			// strings; take the first string value.
			for _, inner := range val {
				if s, ok := inner.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
					break
				}
			}
		}
	}
	return out
}
