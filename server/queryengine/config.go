package queryengine

// Config tunes the intelligence query engine.
type Config struct {
	// TopK is the number of conversations grounded into the answer when the
	// request does not say otherwise.
	TopK int

	// MaxTopK caps the per-request override.
	MaxTopK int

	// MaxQueryLength bounds the query text.
	MaxQueryLength int

	// ExcerptLength bounds match excerpts, in runes.
	ExcerptLength int

	// MaxCandidates bounds how many conversations are loaded for ranking.
	MaxCandidates int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		TopK:           5,
		MaxTopK:        20,
		MaxQueryLength: 1000,
		ExcerptLength:  200,
		MaxCandidates:  500,
	}
}
