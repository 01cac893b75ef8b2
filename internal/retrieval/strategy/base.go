// Package strategy implements the retrieval strategies described in
// §4.G: single-round (one search), multi-round (iterative query
// refinement across several searches), and parallel (several query
// variants fanned out concurrently). All three share the same
// dedup/merge helpers from internal/retrieval.
package strategy

import "ragchat/internal/retrieval"

// Config tunes a strategy. Not every field applies to every strategy;
// each constructor documents which ones it reads.
type Config struct {
	PipelineName string
	TopK         int

	// MultiRound
	MaxRounds           int
	MinResultsThreshold int
	MinScoreThreshold   *float64 // nil disables the score stopping condition

	// Parallel
	NumVariants int
}

func (c Config) withCommonDefaults() Config {
	if c.PipelineName == "" {
		c.PipelineName = "default"
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	return c
}

// base holds the fields every strategy needs: the source to query and
// the resolved config.
type base struct {
	source retrieval.Source
	cfg    Config
}
