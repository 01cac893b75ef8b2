package strategy

import (
	"context"
	"strings"

	"ragchat/internal/retrieval"
)

const (
	defaultMaxRounds           = 3
	defaultMinResultsThreshold = 3
)

// refineMode names which refinement a round applied, surfaced for
// logging/debugging.
type refineMode string

const (
	refineExpand  refineMode = "expand"
	refineRefine  refineMode = "refine"
	refineEnhance refineMode = "enhance"
)

// MultiRound issues up to MaxRounds searches, refining the query between
// rounds based on what the previous round returned, stopping early once
// enough results accumulate, scores are strong enough, or refinement
// stops changing the query (§4.G).
type MultiRound struct{ base }

// NewMultiRound constructs a MultiRound strategy. MaxRounds defaults to
// 3, MinResultsThreshold to 3; MinScoreThreshold is optional.
func NewMultiRound(source retrieval.Source, cfg Config) *MultiRound {
	cfg = cfg.withCommonDefaults()
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.MinResultsThreshold <= 0 {
		cfg.MinResultsThreshold = defaultMinResultsThreshold
	}
	return &MultiRound{base{source: source, cfg: cfg}}
}

func (s *MultiRound) Retrieve(ctx context.Context, originalQuery string, history []retrieval.HistoryTurn) ([]retrieval.Result, error) {
	var all []retrieval.Result
	currentQuery := originalQuery

	for round := 1; round <= s.cfg.MaxRounds; round++ {
		roundResults, err := s.source.Search(ctx, currentQuery, s.cfg.PipelineName, s.cfg.TopK)
		if err != nil {
			return nil, err
		}
		for i := range roundResults {
			if roundResults[i].Metadata == nil {
				roundResults[i].Metadata = map[string]any{}
			}
			roundResults[i].Metadata["round"] = round
		}
		all = retrieval.Merge(all, roundResults)

		if len(all) >= s.cfg.MinResultsThreshold {
			break
		}
		if s.cfg.MinScoreThreshold != nil && len(roundResults) > 0 &&
			countBelowOrEqual(roundResults, *s.cfg.MinScoreThreshold) >= s.cfg.MinResultsThreshold {
			break
		}
		if round == s.cfg.MaxRounds {
			break
		}

		refined, _ := refineQuery(originalQuery, history, roundResults)
		if refined == "" || refined == currentQuery {
			break
		}
		currentQuery = refined
	}

	return all, nil
}

func countBelowOrEqual(results []retrieval.Result, threshold float64) int {
	n := 0
	for _, r := range results {
		if r.Score <= threshold {
			n++
		}
	}
	return n
}

// refineQuery picks the next query to run given the previous round's
// results, mirroring _refine_query_with_results: expand when there is
// too little to learn from yet (no results, no scores, or fewer than 3
// results), refine when the round was confidently weak (a distance
// metric, so higher score is worse), enhance (currently a no-op hook for
// future LLM-based refinement) otherwise.
func refineQuery(originalQuery string, history []retrieval.HistoryTurn, prevResults []retrieval.Result) (string, refineMode) {
	if len(prevResults) == 0 {
		return expandQuery(originalQuery, history), refineExpand
	}
	if len(prevResults) < 3 {
		return expandQuery(originalQuery, history), refineExpand
	}

	var sum, min float64
	min = prevResults[0].Score
	for _, r := range prevResults {
		sum += r.Score
		if r.Score < min {
			min = r.Score
		}
	}
	avg := sum / float64(len(prevResults))

	if avg > 0.5 && min > 0.3 {
		return refineFromResults(originalQuery, prevResults), refineRefine
	}
	return originalQuery, refineEnhance
}

// expandQuery appends an excerpt drawn from the user turns among the
// last 3 conversation messages, each truncated to 100 characters.
func expandQuery(query string, history []retrieval.HistoryTurn) string {
	if len(history) == 0 {
		return query
	}
	start := len(history) - 3
	if start < 0 {
		start = 0
	}

	var excerpts []string
	for _, turn := range history[start:] {
		if turn.Role != "user" {
			continue
		}
		content := turn.Content
		if len(content) > 100 {
			content = content[:100]
		}
		excerpts = append(excerpts, content)
	}
	if len(excerpts) == 0 {
		return query
	}
	return query + " " + strings.Join(excerpts, " ")
}

// refineFromResults appends up to 5 unique terms drawn from the first 5
// words of each of the top 3 results' text (first 200 characters).
func refineFromResults(query string, results []retrieval.Result) string {
	top := results
	if len(top) > 3 {
		top = top[:3]
	}

	var keyTerms []string
	for _, r := range top {
		text := r.Text
		if len(text) > 200 {
			text = text[:200]
		}
		words := strings.Fields(text)
		if len(words) > 5 {
			words = words[:5]
		}
		keyTerms = append(keyTerms, words...)
	}
	if len(keyTerms) > 5 {
		keyTerms = keyTerms[:5]
	}

	seen := map[string]bool{}
	var unique []string
	for _, t := range keyTerms {
		if seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}
	if len(unique) == 0 {
		return query
	}
	return query + " " + strings.Join(unique, " ")
}
