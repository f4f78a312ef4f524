// Package compress implements the recency/compression split policy and
// the summarization contract that keep an unboundedly growing
// conversation usable inside a fixed context budget. Old turns are
// summarized by an external collaborator; recent turns stay verbatim.
package compress

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hiermem/hiermem/pkg/turns"
)

// ErrUnavailable is returned when the summarization collaborator is
// unreachable, times out, or returns empty or invalid output. The turn
// log is never affected by a summarization failure.
var ErrUnavailable = errors.New("summarization unavailable")

// Defaults for the compression policy.
const (
	DefaultMaxTokens   = 150
	DefaultRecentCount = 5
)

// Split partitions an ordered turn sequence into the turns to compress
// and the turns to keep verbatim. The cut is strictly positional: the
// last recentCount turns are recent, everything before is old. Message
// content never influences the cut point. If there are recentCount or
// fewer turns, old is empty.
func Split(all []turns.Turn, recentCount int) (old, recent []turns.Turn) {
	if len(all) <= recentCount {
		return nil, all
	}
	cut := len(all) - recentCount
	return all[:cut], all[cut:]
}

// FormatTurns renders turns for summarization, one per line, ascending:
//
//	Turn {id} ({agent}): {message}
func FormatTurns(ts []turns.Turn) string {
	lines := make([]string, len(ts))
	for i, t := range ts {
		lines[i] = fmt.Sprintf("Turn %d (%s): %s", t.TurnID, t.AgentID, t.Message)
	}
	return strings.Join(lines, "\n")
}

// EstimateTokens returns a rough token count for a text string,
// ~4 chars per token. This approximates English token density and is
// used only to budget and report summary sizes, never to truncate
// summarizer input or to decide the split point.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Summarizer is the external bounded text-compression collaborator.
// Implementations are instructed to respect maxTokens but the returned
// text is never hard-truncated here; callers compare requested budget
// against returned length to detect overrun.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

// summarySystem is the system role given to LLM-backed summarizers.
const summarySystem = "You are a concise summarizer. Extract only essential information."

// buildPrompt wraps rendered turns in the summarization instructions.
func buildPrompt(text string, maxTokens int) string {
	return fmt.Sprintf(`Summarize this conversation in max %d tokens.

Focus on:
- Key decisions made
- Important facts discovered
- Conflicts or disagreements
- Timeline agreed upon

Conversation:
%s

Summary:`, maxTokens, text)
}

// StaticSummarizer produces a deterministic digest without an LLM.
// Used for tests and offline operation.
type StaticSummarizer struct{}

func (StaticSummarizer) Summarize(_ context.Context, text string, _ int) (string, error) {
	if text == "" {
		return "", nil
	}
	lines := strings.Split(text, "\n")
	first := lines[0]
	if len(first) > 80 {
		first = first[:80] + "..."
	}
	return fmt.Sprintf("Summary of %d earlier turns, starting with: %s", len(lines), first), nil
}
