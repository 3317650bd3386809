// Package classify labels screenshots as work or slack through a multimodal model.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/thebtf/focusmate/pkg/models"
)

// Request is one classification call.
type Request struct {
	Image               []byte // JPEG bytes
	Goal                string
	APIKey              string
	Model               string
	Provider            string
	FocusKeywords       []string
	DistractionKeywords []string
}

// Result is a parsed classification.
type Result struct {
	Label      models.Label    `json:"label"`
	Category   models.Category `json:"category,omitempty"`
	Reason     string          `json:"reason"`
	Confidence float64         `json:"confidence"`
}

// IsSlacking reports whether the result is a slack verdict.
func (r Result) IsSlacking() bool { return r.Label == models.LabelSlack }

// IsHighConfidence reports confidence of at least 0.75.
func (r Result) IsHighConfidence() bool { return r.Confidence >= 0.75 }

// String formats the result as "Work | Coding (85%): reason".
func (r Result) String() string {
	label := "Work"
	if r.IsSlacking() {
		label = "Slack"
	}
	category := string(r.Category)
	if category == "" {
		category = models.UnknownCategory
	}
	return fmt.Sprintf("%s | %s (%d%%): %s", label, category, int(r.Confidence*100), r.Reason)
}

// Classifier labels one image.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// TextGenerator produces short narrative text from a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt, apiKey, model, provider string) (string, error)
}

// Kind categorizes classification failures.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindNetwork     Kind = "network"
	KindMalformed   Kind = "malformed"
	KindOther       Kind = "other"
)

// Error is a classification failure with its kind.
type Error struct {
	Err        error
	Kind       Kind
	StatusCode int
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("classify %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("classify %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrAPIKeyMissing is returned when a request carries no API key.
var ErrAPIKeyMissing = &Error{Kind: KindAuth, Err: errors.New("API key is missing")}

func newError(kind Kind, status int, err error) *Error {
	return &Error{Kind: kind, StatusCode: status, Err: err}
}

// KindOf returns the kind of err, KindOther when err is not a classification error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindOther
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool { return KindOf(err) == KindNetwork }
