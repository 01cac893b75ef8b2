package rag

import (
	"fmt"
	"regexp"

	"ragchat/internal/apperr"
	"ragchat/internal/retrieval"
)

// checkInput enforces the input guardrail (§4.I step 1): reject queries
// over MaxQueryLength or matching any BlockedPatterns; SensitivePatterns
// only tag the query (handled by the caller via the returned bool) and
// never reject it.
func (o *Orchestrator) checkInput(query string) (sensitive bool, err error) {
	if len(query) > o.cfg.MaxQueryLength {
		return false, apperr.New(apperr.Validation, "rag.checkInput", fmt.Errorf("query exceeds max length %d", o.cfg.MaxQueryLength))
	}
	for _, pattern := range o.cfg.BlockedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(query) {
			return false, apperr.New(apperr.Validation, "rag.checkInput", fmt.Errorf("query matches blocked pattern"))
		}
	}
	for _, pattern := range o.cfg.SensitivePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(query) {
			sensitive = true
			break
		}
	}
	return sensitive, nil
}

// applyOutputGuardrail redacts sensitive spans and drops low-relevance
// entries (§4.I step 6). Operates on a copy; the input slice is not
// mutated.
func (o *Orchestrator) applyOutputGuardrail(results []retrieval.Result) []retrieval.Result {
	out := make([]retrieval.Result, 0, len(results))
	for _, r := range results {
		if o.cfg.ValidateRelevance && r.Score > o.cfg.RelevanceFloor {
			continue
		}
		if o.cfg.FilterSensitiveInfo {
			r.Text = redact(r.Text, o.cfg.SensitivePatterns)
		}
		out = append(out, r)
	}
	return out
}

const redactedPlaceholder = "[REDACTED]"

func redact(text string, patterns []string) string {
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
