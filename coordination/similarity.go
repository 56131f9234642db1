package coordination

import (
	"fmt"
	"strings"
)

// Similarity compares two result payloads and returns their agreement in
// [0,1]. The comparison is a pluggable strategy: the default heuristics below
// are placeholders with no accuracy target, and callers with domain knowledge
// should supply their own.
type Similarity interface {
	Compare(a, b Payload) float64
}

// DefaultSimilarity compares text payloads by normalized edit distance and
// structured payloads by key overlap with a value-agreement bonus. Mixed or
// generic payloads blend whatever components both sides carry.
type DefaultSimilarity struct{}

// Compare implements Similarity.
func (DefaultSimilarity) Compare(a, b Payload) float64 {
	switch {
	case a.Kind == KindText && b.Kind == KindText:
		return textSimilarity(a.Text, b.Text)
	case a.Kind == KindStructured && b.Kind == KindStructured:
		return structuredSimilarity(a.Fields, b.Fields)
	}

	// Generic fallback: average over the components present on both sides.
	var sum float64
	var parts int
	if a.Text != "" || b.Text != "" {
		sum += textSimilarity(a.Text, b.Text)
		parts++
	}
	if len(a.Fields) > 0 || len(b.Fields) > 0 {
		sum += structuredSimilarity(a.Fields, b.Fields)
		parts++
	}
	if parts == 0 {
		// Both payloads are empty; vacuous agreement.
		return 1
	}
	return sum / float64(parts)
}

// textSimilarity is 1 minus the normalized Levenshtein distance over
// lowercased text.
func textSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes the edit distance with a two-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// structuredSimilarity averages key-set Jaccard overlap with the fraction of
// shared keys whose values agree.
func structuredSimilarity(a, b map[string]any) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	shared, equal := 0, 0
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			continue
		}
		shared++
		if fmt.Sprint(av) == fmt.Sprint(bv) {
			equal++
		}
	}
	union := len(a) + len(b) - shared
	jaccard := float64(shared) / float64(union)
	if shared == 0 {
		return jaccard
	}
	valueAgreement := float64(equal) / float64(shared)
	return (jaccard + valueAgreement) / 2
}

var _ Similarity = DefaultSimilarity{}
