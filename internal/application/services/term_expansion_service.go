package services

import (
	"strings"
	"sync"
)

const (
	defaultMaxExpansions = 24
	minFuzzyLen          = 3
	vowels               = "aeiou"
)

// TermExpansionService expands a search query into synonym and fuzzy
// variants. Each variant replaces one query term.
type TermExpansionService struct {
	terms         map[string][]string
	maxExpansions int
	mu            sync.RWMutex
}

// NewTermExpansionService creates a new term expansion service
func NewTermExpansionService(synonyms map[string][]string, maxExpansions int) *TermExpansionService {
	if maxExpansions <= 0 {
		maxExpansions = defaultMaxExpansions
	}
	s := &TermExpansionService{
		terms:         make(map[string][]string, len(synonyms)),
		maxExpansions: maxExpansions,
	}
	s.AddSynonyms(synonyms)
	return s
}

// AddSynonyms merges entries into the synonym table
func (s *TermExpansionService) AddSynonyms(synonyms map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Normalize keys to lowercase for consistent lookup
	for k, v := range synonyms {
		key := strings.ToLower(strings.TrimSpace(k))
		for _, syn := range v {
			s.terms[key] = append(s.terms[key], strings.ToLower(strings.TrimSpace(syn)))
		}
	}
}

// Expand returns the query followed by its variants, at most maxExpansions
// in total. Synonyms come first. Fuzzy variants are kept only when they are
// in vocabulary; a nil vocabulary keeps them all.
func (s *TermExpansionService) Expand(query string, vocabulary map[string]struct{}) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []string{}
	}
	terms := strings.Fields(query)
	query = strings.Join(terms, " ")

	expanded := []string{query}
	seen := map[string]bool{query: true}
	add := func(i int, variant string) bool {
		if len(expanded) >= s.maxExpansions {
			return false
		}
		replaced := make([]string, len(terms))
		copy(replaced, terms)
		replaced[i] = variant
		q := strings.Join(replaced, " ")
		if !seen[q] {
			seen[q] = true
			expanded = append(expanded, q)
		}
		return true
	}

	for i, term := range terms {
		for _, syn := range s.terms[term] {
			if !add(i, syn) {
				return expanded
			}
		}
	}

	for i, term := range terms {
		for _, variant := range FuzzyVariants(term) {
			if vocabulary != nil {
				if _, ok := vocabulary[variant]; !ok {
					continue
				}
			}
			if !add(i, variant) {
				return expanded
			}
		}
	}
	return expanded
}

// FuzzyVariants generates spelling variants of a term: singular and plural
// forms, -ing/-ed stems, single deletions, adjacent swaps and vowel
// insertions, in that order. Terms shorter than three letters have none.
func FuzzyVariants(term string) []string {
	r := []rune(term)
	if len(r) < minFuzzyLen {
		return nil
	}

	var out []string
	seen := map[string]bool{term: true}
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	switch {
	case strings.HasSuffix(term, "ies"):
		add(strings.TrimSuffix(term, "ies") + "y")
	case strings.HasSuffix(term, "es"):
		add(strings.TrimSuffix(term, "es"))
		add(strings.TrimSuffix(term, "s"))
	case strings.HasSuffix(term, "s"):
		add(strings.TrimSuffix(term, "s"))
	case strings.HasSuffix(term, "y"):
		add(strings.TrimSuffix(term, "y") + "ies")
	default:
		add(term + "s")
	}

	for _, suffix := range []string{"ing", "ed"} {
		if stem := strings.TrimSuffix(term, suffix); stem != term && len(stem) >= minFuzzyLen {
			add(stem)
			add(stem + "e")
		}
	}

	for i := range r {
		add(string(r[:i]) + string(r[i+1:]))
	}

	for i := 0; i+1 < len(r); i++ {
		if r[i] == r[i+1] {
			continue
		}
		swapped := make([]rune, len(r))
		copy(swapped, r)
		swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
		add(string(swapped))
	}

	for i := 0; i <= len(r); i++ {
		for _, v := range vowels {
			add(string(r[:i]) + string(v) + string(r[i:]))
		}
	}
	return out
}
