package classify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/thebtf/focusmate/pkg/models"
)

type rawResult struct {
	Label      *string  `json:"label"`
	Category   *string  `json:"category"`
	Confidence *float64 `json:"confidence"`
	Reason     *string  `json:"reason"`
}

// StripFences removes a surrounding ```json or ``` markdown fence.
func StripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

// ParseResult decodes model output into a Result. The output must be a single JSON object;
// trailing text after it is malformed.
// Label, confidence and reason are required; unknown categories become Other.
func ParseResult(text string) (Result, error) {
	cleaned := StripFences(text)
	if cleaned == "" {
		return Result{}, newError(KindMalformed, 0, errors.New("empty response"))
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return Result{}, newError(KindMalformed, 0, fmt.Errorf("decode result: %w", err))
	}
	if raw.Label == nil || raw.Confidence == nil || raw.Reason == nil {
		return Result{}, newError(KindMalformed, 0, fmt.Errorf("missing field in %q", cleaned))
	}

	label, ok := models.ParseLabel(*raw.Label)
	if !ok {
		return Result{}, newError(KindMalformed, 0, fmt.Errorf("invalid label %q", *raw.Label))
	}

	res := Result{
		Label:      label,
		Reason:     strings.TrimSpace(*raw.Reason),
		Confidence: clamp01(*raw.Confidence),
	}
	if raw.Category != nil && strings.TrimSpace(*raw.Category) != "" {
		if cat, ok := models.ParseCategory(*raw.Category); ok {
			res.Category = cat
		} else {
			res.Category = models.CategoryOther
		}
	}
	return res, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
