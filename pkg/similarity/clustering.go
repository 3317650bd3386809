// Package similarity groups short classifier explanations that describe the same activity.
package similarity

import (
	"strings"

	"github.com/thebtf/focusmate/pkg/models"
)

// DefaultThreshold is the Jaccard similarity at which two reasons count as the same activity.
const DefaultThreshold = 0.5

// Cluster is a group of checks whose reasons describe the same activity.
// Representative is the first check of the group in input order.
type Cluster struct {
	Representative *models.Check
	Count          int
}

// ClusterChecks groups checks with similar reasons. Clusters are returned in order of
// their first member; checks without usable terms form their own clusters.
func ClusterChecks(checks []*models.Check, threshold float64) []Cluster {
	if len(checks) == 0 {
		return nil
	}

	termSets := make([]map[string]bool, len(checks))
	for i, c := range checks {
		termSets[i] = ExtractTerms(c.Reason)
	}

	clustered := make([]bool, len(checks))
	result := make([]Cluster, 0)

	for i := range checks {
		if clustered[i] {
			continue
		}
		clustered[i] = true
		cluster := Cluster{Representative: checks[i], Count: 1}
		if len(termSets[i]) == 0 {
			result = append(result, cluster)
			continue
		}

		for j := i + 1; j < len(checks); j++ {
			if clustered[j] {
				continue
			}
			if JaccardSimilarity(termSets[i], termSets[j]) >= threshold {
				clustered[j] = true
				cluster.Count++
			}
		}
		result = append(result, cluster)
	}
	return result
}

// IsSimilarToAny reports whether reason matches any of existing at threshold.
func IsSimilarToAny(reason string, existing []string, threshold float64) bool {
	terms := ExtractTerms(reason)
	if len(terms) == 0 {
		return false
	}
	for _, other := range existing {
		if JaccardSimilarity(terms, ExtractTerms(other)) >= threshold {
			return true
		}
	}
	return false
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "for": true, "from": true,
	"with": true, "about": true, "into": true, "to": true, "of": true,
	"in": true, "on": true, "at": true, "by": true, "it": true, "its": true,
	"user": true, "screen": true, "appears": true, "seems": true,
	"currently": true, "while": true, "some": true, "their": true,
}

// ExtractTerms lowercases text and returns its words of three or more letters, minus stop words.
func ExtractTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})
	for _, word := range words {
		if len(word) >= 3 && !stopWords[word] {
			terms[word] = true
		}
	}
	return terms
}

// JaccardSimilarity returns |a∩b| / |a∪b|. Two empty sets are identical.
func JaccardSimilarity(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if set2[term] {
			intersection++
		}
	}
	return float64(intersection) / float64(len(set1)+len(set2)-intersection)
}
