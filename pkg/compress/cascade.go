package compress

import (
	"context"
	"strings"
)

// DefaultMaxInputTokens is the input bound before a cascade folds.
const DefaultMaxInputTokens = 2000

// CascadeSummarizer bounds the input ever handed to the inner
// Summarizer. Recomputing a summary over the entire old segment stops
// scaling once the rendered text exceeds the collaborator's practical
// input limit; the cascade instead folds an accumulated summary plus the
// next slice of turns into a fresh summary, slice by slice. It sits
// behind the same Summarizer interface so it can replace the single-pass
// policy without changing any public contract.
type CascadeSummarizer struct {
	inner          Summarizer
	maxInputTokens int
}

// NewCascadeSummarizer wraps inner with an input bound. A non-positive
// maxInputTokens selects DefaultMaxInputTokens.
func NewCascadeSummarizer(inner Summarizer, maxInputTokens int) *CascadeSummarizer {
	if maxInputTokens <= 0 {
		maxInputTokens = DefaultMaxInputTokens
	}
	return &CascadeSummarizer{inner: inner, maxInputTokens: maxInputTokens}
}

// Summarize delegates directly when the input fits the bound, otherwise
// folds line slices through the inner summarizer. Line boundaries are
// used for slicing so no rendered turn is ever split mid-message.
func (c *CascadeSummarizer) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	if EstimateTokens(text) <= c.maxInputTokens {
		return c.inner.Summarize(ctx, text, maxTokens)
	}

	var summary string
	for _, slice := range sliceByTokens(text, c.maxInputTokens) {
		input := slice
		if summary != "" {
			input = "Summary so far:\n" + summary + "\n\nNew turns:\n" + slice
		}
		next, err := c.inner.Summarize(ctx, input, maxTokens)
		if err != nil {
			return "", err
		}
		summary = next
	}
	return summary, nil
}

// sliceByTokens groups whole lines into slices of at most maxTokens
// estimated tokens. A single line longer than the bound forms its own
// slice rather than being split.
func sliceByTokens(text string, maxTokens int) []string {
	lines := strings.Split(text, "\n")

	var slices []string
	var current []string
	currentTokens := 0

	for _, line := range lines {
		lineTokens := EstimateTokens(line)
		if currentTokens+lineTokens > maxTokens && len(current) > 0 {
			slices = append(slices, strings.Join(current, "\n"))
			current = current[:0]
			currentTokens = 0
		}
		current = append(current, line)
		currentTokens += lineTokens
	}
	if len(current) > 0 {
		slices = append(slices, strings.Join(current, "\n"))
	}
	return slices
}
