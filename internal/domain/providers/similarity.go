package providers

import "time"

// Similarity scores how alike two strings are, in [0,1]
type Similarity interface {
	Similarity(a, b string) float64
}

// SimilarityFunc adapts a function to Similarity
type SimilarityFunc func(a, b string) float64

// Similarity implements Similarity
func (f SimilarityFunc) Similarity(a, b string) float64 {
	return f(a, b)
}

// Clock returns the current time
type Clock func() time.Time
