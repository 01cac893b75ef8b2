package strategy

import (
	"context"
	"strings"
	"sync"

	"ragchat/internal/observability"
	"ragchat/internal/retrieval"
)

const defaultNumVariants = 3

// Parallel generates several query variants (from recent conversation
// context) and fans them out concurrently against the source, merging
// and deduping whatever comes back. A failing variant is logged and
// dropped rather than failing the whole retrieval (§4.G).
type Parallel struct{ base }

// NewParallel constructs a Parallel strategy. NumVariants defaults to 3.
func NewParallel(source retrieval.Source, cfg Config) *Parallel {
	cfg = cfg.withCommonDefaults()
	if cfg.NumVariants <= 0 {
		cfg.NumVariants = defaultNumVariants
	}
	return &Parallel{base{source: source, cfg: cfg}}
}

func (s *Parallel) Retrieve(ctx context.Context, query string, history []retrieval.HistoryTurn) ([]retrieval.Result, error) {
	variants := generateQueryVariants(query, history, s.cfg.NumVariants)

	batches := make([][]retrieval.Result, len(variants))
	var wg sync.WaitGroup
	for i, variant := range variants {
		i, variant := i, variant
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := s.source.Search(ctx, variant, s.cfg.PipelineName, s.cfg.TopK)
			if err != nil {
				observability.LoggerWithTrace(ctx).Error().Err(err).Str("variant", variant).Msg("parallel_retrieval_variant_failed")
				return
			}
			batches[i] = results
		}()
	}
	wg.Wait()

	return retrieval.Merge(batches...), nil
}

// generateQueryVariants builds up to numVariants query strings: the
// original query, then the original combined with one context term per
// variant drawn from the first 5 words of recent user messages (last 5
// messages), falling back to repeating the base query when there isn't
// enough context, and deduplicating the result.
func generateQueryVariants(baseQuery string, history []retrieval.HistoryTurn, numVariants int) []string {
	variants := []string{baseQuery}

	var contextTerms []string
	start := len(history) - 5
	if start < 0 {
		start = 0
	}
	for _, turn := range history[start:] {
		if turn.Role != "user" {
			continue
		}
		words := strings.Fields(turn.Content)
		if len(words) > 5 {
			words = words[:5]
		}
		contextTerms = append(contextTerms, words...)
	}

	if len(contextTerms) > 0 {
		for i := 1; i < numVariants; i++ {
			if i <= len(contextTerms) {
				variants = append(variants, baseQuery+" "+contextTerms[i-1])
			} else {
				variants = append(variants, baseQuery)
			}
		}
	} else {
		for i := 1; i < numVariants; i++ {
			variants = append(variants, baseQuery)
		}
	}

	seen := map[string]bool{}
	unique := make([]string, 0, len(variants))
	for _, v := range variants {
		if seen[v] {
			continue
		}
		seen[v] = true
		unique = append(unique, v)
	}
	if len(unique) > numVariants {
		unique = unique[:numVariants]
	}
	return unique
}
