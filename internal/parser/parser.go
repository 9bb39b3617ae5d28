// Package parser turns free-form LLM reply text into a normalized
// evaluation result.
//
// Models are instructed to answer with a single JSON object, but do not
// reliably emit strict JSON: markdown fences, prose around the object,
// trailing commas, literal newlines inside strings, and smart quotes all
// occur in practice. The pipeline here repairs what it can, stage by
// stage, and falls back to per-field regex extraction so that a few
// malformed fields do not lose the whole result.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jobfit-sh/jobfit/internal/model"
)

// ErrUnparseable is returned when every repair stage and the field-level
// fallback all fail to recover anything usable from the reply.
var ErrUnparseable = errors.New("model returned unparseable output")

// Parse decodes a raw model reply into a normalized Result.
//
// Stages, in order:
//  1. strip markdown code fences
//  2. locate the first balanced {...} object (prose around it is ignored)
//  3. strip trailing commas before closing brackets
//  4. strict json.Unmarshal
//  5. retry after escaping literal newlines found inside string literals
//  6. retry after normalizing smart quotes and single-quoted strings
//  7. per-field regex fallback
//
// Only when stage 7 also recovers nothing does Parse return ErrUnparseable.
func Parse(raw string) (*model.Result, error) {
	obj, err := Decode(raw)
	if err != nil {
		fields, ok := extractFields(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		obj = fields
	}
	return Normalize(obj), nil
}

// Decode runs the structural repair stages and returns the decoded reply
// object. It does not attempt the per-field fallback; callers that want
// the full pipeline use Parse.
func Decode(raw string) (map[string]any, error) {
	text := StripFences(raw)
	obj, ok := balancedObject(text)
	if !ok {
		return nil, errors.New("no JSON object found in reply")
	}
	obj = stripTrailingCommas(obj)

	candidates := []string{
		obj,
		escapeNewlinesInStrings(obj),
		normalizeQuotes(escapeNewlinesInStrings(obj)),
	}

	var lastErr error
	for _, c := range candidates {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(c), &decoded); err != nil {
			lastErr = err
			continue
		}
		return decoded, nil
	}
	return nil, lastErr
}
