package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/focusmate/pkg/models"
)

func TestJaccardSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		set1     map[string]bool
		set2     map[string]bool
		expected float64
	}{
		{
			name:     "identical sets",
			set1:     map[string]bool{"a": true, "b": true, "c": true},
			set2:     map[string]bool{"a": true, "b": true, "c": true},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			set1:     map[string]bool{"a": true, "b": true},
			set2:     map[string]bool{"c": true, "d": true},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			set1:     map[string]bool{"a": true, "b": true, "c": true},
			set2:     map[string]bool{"b": true, "c": true, "d": true},
			expected: 0.5,
		},
		{
			name:     "empty sets",
			set1:     map[string]bool{},
			set2:     map[string]bool{},
			expected: 1.0,
		},
		{
			name:     "one empty set",
			set1:     map[string]bool{"a": true},
			set2:     map[string]bool{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, JaccardSimilarity(tt.set1, tt.set2), 0.001)
		})
	}
}

func TestExtractTerms(t *testing.T) {
	terms := ExtractTerms("The user is watching a YouTube video about cooking_tips!")

	assert.Equal(t, map[string]bool{
		"watching":     true,
		"youtube":      true,
		"video":        true,
		"cooking_tips": true,
	}, terms)
	assert.Empty(t, ExtractTerms("it is a"))
}

func check(id, reason string) *models.Check {
	return &models.Check{ID: id, Reason: reason, Label: models.LabelSlack}
}

func TestClusterChecks(t *testing.T) {
	checks := []*models.Check{
		check("1", "Watching a YouTube video"),
		check("2", "Scrolling the Twitter feed"),
		check("3", "Watching YouTube video comments"),
		check("4", ""),
		check("5", "Scrolling Twitter feed"),
		check("6", "Watching YouTube video"),
	}

	clusters := ClusterChecks(checks, DefaultThreshold)

	require.Len(t, clusters, 3)
	assert.Equal(t, "1", clusters[0].Representative.ID)
	assert.Equal(t, 3, clusters[0].Count)
	assert.Equal(t, "2", clusters[1].Representative.ID)
	assert.Equal(t, 2, clusters[1].Count)
	assert.Equal(t, "4", clusters[2].Representative.ID)
	assert.Equal(t, 1, clusters[2].Count)

	assert.Nil(t, ClusterChecks(nil, DefaultThreshold))
}

func TestClusterChecks_EmptyReasonsStaySeparate(t *testing.T) {
	clusters := ClusterChecks([]*models.Check{check("a", ""), check("b", "")}, DefaultThreshold)
	require.Len(t, clusters, 2)
	assert.Equal(t, 1, clusters[0].Count)
	assert.Equal(t, 1, clusters[1].Count)
}

func TestIsSimilarToAny(t *testing.T) {
	existing := []string{"Browsing Reddit threads", "Playing chess online"}

	assert.True(t, IsSimilarToAny("browsing reddit", existing, DefaultThreshold))
	assert.False(t, IsSimilarToAny("Editing Go code", existing, DefaultThreshold))
	assert.False(t, IsSimilarToAny("", existing, DefaultThreshold))
	assert.False(t, IsSimilarToAny("Browsing Reddit", nil, DefaultThreshold))
}
