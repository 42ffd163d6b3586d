package scoring

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// WordSimilarity returns 1 for equal words, 0.8 when one contains the other
// and 1 - distance/maxLen otherwise. Comparison is case-insensitive.
func WordSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	sim := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

// Tokenize splits text into lowercase word tokens
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '+' && r != '#'
	})
}

// TokenSimilarity is the default pluggable text similarity. Each query
// token is matched to its most similar token in the text; the result is the
// mean over query tokens.
func TokenSimilarity(query, text string) float64 {
	qt := Tokenize(query)
	tt := Tokenize(text)
	if len(qt) == 0 || len(tt) == 0 {
		return 0
	}
	if len(qt) == 1 && len(tt) == 1 {
		return WordSimilarity(qt[0], tt[0])
	}

	total := 0.0
	for _, q := range qt {
		best := 0.0
		for _, t := range tt {
			if s := WordSimilarity(q, t); s > best {
				best = s
				if best == 1 {
					break
				}
			}
		}
		total += best
	}
	return total / float64(len(qt))
}

// Jaccard returns |a ∩ b| / |a ∪ b| over lowercase sets
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[strings.ToLower(x)] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, y := range b {
		y = strings.ToLower(y)
		if _, dup := seen[y]; dup {
			continue
		}
		seen[y] = struct{}{}
		if _, ok := set[y]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
