package strategy

import (
	"context"

	"ragchat/internal/retrieval"
)

// SingleRound issues exactly one search against the configured source
// and pipeline, ignoring conversation history (§4.G).
type SingleRound struct{ base }

// NewSingleRound constructs a SingleRound strategy. Reads PipelineName
// and TopK from cfg.
func NewSingleRound(source retrieval.Source, cfg Config) *SingleRound {
	return &SingleRound{base{source: source, cfg: cfg.withCommonDefaults()}}
}

func (s *SingleRound) Retrieve(ctx context.Context, query string, _ []retrieval.HistoryTurn) ([]retrieval.Result, error) {
	return s.source.Search(ctx, query, s.cfg.PipelineName, s.cfg.TopK)
}
