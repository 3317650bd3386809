package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/focusmate/pkg/models"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Result
		wantErr bool
	}{
		{
			name:  "plain work",
			input: `{"label": "work", "category": "Coding", "confidence": 0.85, "reason": "User is coding in VS Code"}`,
			want:  Result{Label: models.LabelWork, Category: models.CategoryCoding, Confidence: 0.85, Reason: "User is coding in VS Code"},
		},
		{
			name:  "json fence",
			input: "```json\n{\"label\": \"slack\", \"category\": \"Social Media\", \"confidence\": 0.92, \"reason\": \"YouTube\"}\n```",
			want:  Result{Label: models.LabelSlack, Category: models.CategorySocialMedia, Confidence: 0.92, Reason: "YouTube"},
		},
		{
			name:  "bare fence without category",
			input: "```\n{\"label\": \"work\", \"confidence\": 0.5, \"reason\": \"docs\"}\n```",
			want:  Result{Label: models.LabelWork, Confidence: 0.5, Reason: "docs"},
		},
		{
			name:  "unknown category maps to other and confidence clamps",
			input: `{"label": "SLACK", "category": "Knitting", "confidence": 1.7, "reason": "yarn"}`,
			want:  Result{Label: models.LabelSlack, Category: models.CategoryOther, Confidence: 1, Reason: "yarn"},
		},
		{name: "invalid label", input: `{"label": "invalid", "confidence": 0.5, "reason": "test"}`, wantErr: true},
		{name: "missing reason", input: `{"label": "work", "confidence": 0.5}`, wantErr: true},
		{name: "not json", input: `I think the user is working`, wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
		{name: "trailing prose", input: `{"label": "work", "confidence": 0.5, "reason": "x"} and then some prose`, wantErr: true},
		{name: "two objects", input: `{"label": "work", "confidence": 0.5, "reason": "x"}{"label": "slack"}`, wantErr: true},
		{name: "fence then prose", input: "```json\n{\"label\": \"slack\", \"confidence\": 0.9, \"reason\": \"x\"}\n```\nHope this helps!", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResult(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindMalformed, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResultHelpers(t *testing.T) {
	r := Result{Label: models.LabelWork, Category: models.CategoryCoding, Confidence: 0.85, Reason: "Coding in Xcode"}
	assert.Equal(t, "Work | Coding (85%): Coding in Xcode", r.String())
	assert.False(t, r.IsSlacking())
	assert.True(t, r.IsHighConfidence())

	r = Result{Label: models.LabelSlack, Confidence: 0.74}
	assert.True(t, r.IsSlacking())
	assert.False(t, r.IsHighConfidence())
	assert.Contains(t, r.String(), "Slack | Unknown")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAuth, KindOf(ErrAPIKeyMissing))
	assert.Equal(t, KindNetwork, KindOf(fmt.Errorf("wrapped: %w", newError(KindNetwork, 0, errors.New("dial")))))
	assert.Equal(t, KindNetwork, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindOther, KindOf(errors.New("boom")))
	assert.True(t, IsAuth(newError(KindAuth, 401, errors.New("denied"))))
	assert.True(t, IsNetwork(newError(KindNetwork, 503, errors.New("down"))))
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt(nil, nil, "")
	assert.Contains(t, p, defaultWorkList)
	assert.Contains(t, p, defaultSlackList)
	assert.NotContains(t, p, "User's current goal")

	p = SystemPrompt([]string{"vim", " "}, []string{"reddit"}, "  ship v2 ")
	assert.Contains(t, p, `("vim")`)
	assert.Contains(t, p, `("reddit")`)
	assert.NotContains(t, p, defaultWorkList)
	assert.Contains(t, p, "\nUser's current goal: ship v2")
}
