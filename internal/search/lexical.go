package search

import "strings"

// trigramSize is the n-gram width for lexical similarity. Three characters
// is enough to catch typosquats and shared infrastructure naming without
// matching on single shared letters.
const trigramSize = 3

// trigrams returns the set of character trigrams of s, lowercased. Strings
// shorter than the trigram size yield the whole string as a single gram so
// short values still compare non-trivially.
func trigrams(s string) map[string]struct{} {
	s = strings.ToLower(strings.TrimSpace(s))
	set := make(map[string]struct{})
	if s == "" {
		return set
	}
	if len(s) < trigramSize {
		set[s] = struct{}{}
		return set
	}
	for i := 0; i+trigramSize <= len(s); i++ {
		set[s[i:i+trigramSize]] = struct{}{}
	}
	return set
}

// jaccard computes |a∩b| / |a∪b| over two trigram sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for g := range small {
		if _, ok := large[g]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// LexicalSimilarity scores two strings by trigram Jaccard overlap.
func LexicalSimilarity(a, b string) float64 {
	return jaccard(trigrams(a), trigrams(b))
}
