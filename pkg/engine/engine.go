// Package engine coordinates the turn store, the positional split
// policy, and the summarization collaborator behind the three public
// memory operations: store, get_recent, and get_compressed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hiermem/hiermem/pkg/compress"
	"github.com/hiermem/hiermem/pkg/turns"
)

// ErrInvalidArgument is returned for negative limits or budgets and
// malformed identifiers.
var ErrInvalidArgument = errors.New("invalid argument")

// Config holds engine defaults.
type Config struct {
	// DefaultRecentLimit is the get_recent window when the caller omits
	// a limit. Default: 5.
	DefaultRecentLimit int

	// DefaultMaxTokens is the summary token budget when the caller
	// omits one. Default: 150.
	DefaultMaxTokens int

	// DefaultRecentCount is how many trailing turns stay verbatim in
	// get_compressed when the caller omits a count. Default: 5.
	DefaultRecentCount int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultRecentLimit: 5,
		DefaultMaxTokens:   compress.DefaultMaxTokens,
		DefaultRecentCount: compress.DefaultRecentCount,
	}
}

// Engine orchestrates turn storage and hierarchical compression for any
// number of independent agent identities. It holds no locks of its own:
// append linearization lives in the store, and get_compressed works on a
// snapshot so a slow summarizer call never blocks concurrent stores or
// reads for the same agent.
type Engine struct {
	store      turns.Store
	summarizer compress.Summarizer
	cfg        Config
	metrics    *Metrics
	tracer     trace.Tracer
}

// New creates an engine over an injected store and summarizer.
// metrics may be nil.
func New(store turns.Store, summarizer compress.Summarizer, cfg Config, metrics *Metrics) *Engine {
	if cfg.DefaultRecentLimit <= 0 {
		cfg.DefaultRecentLimit = 5
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = compress.DefaultMaxTokens
	}
	if cfg.DefaultRecentCount <= 0 {
		cfg.DefaultRecentCount = compress.DefaultRecentCount
	}
	return &Engine{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg,
		metrics:    metrics,
		tracer:     otel.Tracer("hiermem/engine"),
	}
}

// StoreRequest is the input for the store operation.
type StoreRequest struct {
	AgentID   string `json:"agent_id"`
	TurnID    int64  `json:"turn_id,omitempty"` // 0 = store-assigned
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

// StoreResult is the output of the store operation.
type StoreResult struct {
	MemoryID int64 `json:"memory_id"`
	Stored   bool  `json:"stored"`
}

// RecentRequest is the input for the get_recent operation.
type RecentRequest struct {
	AgentID   string `json:"agent_id"`
	Limit     int    `json:"limit,omitempty"` // 0 = default
	SessionID string `json:"session_id,omitempty"`
}

// TurnView is the trimmed turn shape returned by get_recent.
type TurnView struct {
	TurnID  int64  `json:"turn_id"`
	Message string `json:"message"`
}

// RecentResult is the output of the get_recent operation.
type RecentResult struct {
	AgentID   string     `json:"agent_id"`
	Turns     []TurnView `json:"turns"`
	TurnCount int        `json:"turn_count"`
}

// CompressedRequest is the input for the get_compressed operation.
type CompressedRequest struct {
	AgentID     string `json:"agent_id"`
	MaxTokens   int    `json:"max_tokens,omitempty"`   // 0 = default
	RecentCount int    `json:"recent_count,omitempty"` // 0 = default
	SessionID   string `json:"session_id,omitempty"`
}

// CompressionResult is the output of the get_compressed operation.
// RequestedMaxTokens and SummaryTokens let callers detect when the
// collaborator overran its budget; the text is never hard-truncated.
type CompressionResult struct {
	CompressedMemory   string       `json:"compressed_memory"`
	RecentMessages     []turns.Turn `json:"recent_messages"`
	TotalSize          string       `json:"total_size"`
	RequestedMaxTokens int          `json:"requested_max_tokens"`
	SummaryTokens      int          `json:"summary_tokens,omitempty"`
	FirstSummarized    int64        `json:"first_summarized_turn,omitempty"`
	LastSummarized     int64        `json:"last_summarized_turn,omitempty"`
}

// Store appends one turn to the agent's log. A turn_id collision is
// rejected with turns.ErrDuplicateTurn and nothing is overwritten.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrInvalidArgument)
	}
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidArgument)
	}
	if req.TurnID < 0 {
		return nil, fmt.Errorf("%w: turn_id must not be negative", ErrInvalidArgument)
	}

	ctx, span := e.tracer.Start(ctx, "engine.store", trace.WithAttributes(
		attribute.String("agent_id", req.AgentID),
	))
	defer span.End()

	memoryID, err := e.store.Append(ctx, turns.AppendRequest{
		AgentID:   req.AgentID,
		SessionID: req.SessionID,
		TurnID:    req.TurnID,
		Message:   req.Message,
		Phase:     req.Phase,
	})
	if err != nil {
		if errors.Is(err, turns.ErrDuplicateTurn) {
			e.metrics.duplicateTurn()
		}
		span.RecordError(err)
		return nil, err
	}

	e.metrics.turnStored()
	return &StoreResult{MemoryID: memoryID, Stored: true}, nil
}

// Recent returns the last limit turns in original order. An agent or
// session with no turns yields an empty result, not an error. Repeated
// calls without intervening writes return identical results.
func (e *Engine) Recent(ctx context.Context, req RecentRequest) (*RecentResult, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrInvalidArgument)
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidArgument)
	}

	limit := req.Limit
	if limit == 0 {
		limit = e.cfg.DefaultRecentLimit
	}

	recent, err := e.store.Recent(ctx, turns.RecentRequest{
		AgentID:   req.AgentID,
		SessionID: req.SessionID,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	views := make([]TurnView, 0, len(recent))
	for _, t := range recent {
		views = append(views, TurnView{TurnID: t.TurnID, Message: t.Message})
	}

	return &RecentResult{
		AgentID:   req.AgentID,
		Turns:     views,
		TurnCount: len(views),
	}, nil
}

// Compressed returns a summary of the old turns plus the trailing
// recent_count turns verbatim. The summary is recomputed from the entire
// old segment on every call: no caching, no incremental extension, so
// the result is always derived from the current snapshot of the log.
// If the whole history fits in the recency window, no external call is
// made. A summarizer failure surfaces as compress.ErrUnavailable and
// leaves the turn log untouched.
func (e *Engine) Compressed(ctx context.Context, req CompressedRequest) (*CompressionResult, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrInvalidArgument)
	}
	if req.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max_tokens must be positive", ErrInvalidArgument)
	}
	if req.RecentCount < 0 {
		return nil, fmt.Errorf("%w: recent_count must be positive", ErrInvalidArgument)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = e.cfg.DefaultMaxTokens
	}
	recentCount := req.RecentCount
	if recentCount == 0 {
		recentCount = e.cfg.DefaultRecentCount
	}

	ctx, span := e.tracer.Start(ctx, "engine.get_compressed", trace.WithAttributes(
		attribute.String("agent_id", req.AgentID),
		attribute.Int("max_tokens", maxTokens),
		attribute.Int("recent_count", recentCount),
	))
	defer span.End()

	// Snapshot the full ordered sequence. Everything below works on
	// this copy; a store committed mid-compression is simply not part
	// of this result.
	all, err := e.store.Query(ctx, turns.QueryRequest{
		AgentID:   req.AgentID,
		SessionID: req.SessionID,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	old, recent := compress.Split(all, recentCount)
	if recent == nil {
		recent = []turns.Turn{}
	}

	if len(old) == 0 {
		return &CompressionResult{
			CompressedMemory:   "",
			RecentMessages:     recent,
			TotalSize:          "small",
			RequestedMaxTokens: maxTokens,
		}, nil
	}

	text := compress.FormatTurns(old)
	start := time.Now()
	summary, err := e.summarizer.Summarize(ctx, text, maxTokens)
	e.metrics.observeSummarizer(time.Since(start))
	if err != nil {
		e.metrics.summarizerFailure()
		span.RecordError(err)
		if !errors.Is(err, compress.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", compress.ErrUnavailable, err)
		}
		return nil, err
	}
	if summary == "" {
		e.metrics.summarizerFailure()
		return nil, fmt.Errorf("%w: empty summary", compress.ErrUnavailable)
	}

	e.metrics.summaryProduced()
	span.SetAttributes(attribute.Int("summary_chars", len(summary)))

	return &CompressionResult{
		CompressedMemory:   summary,
		RecentMessages:     recent,
		TotalSize:          fmt.Sprintf("%d chars summary + %d recent", len(summary), len(recent)),
		RequestedMaxTokens: maxTokens,
		SummaryTokens:      compress.EstimateTokens(summary),
		FirstSummarized:    old[0].TurnID,
		LastSummarized:     old[len(old)-1].TurnID,
	}, nil
}

// Stats exposes turn log statistics for the hosting layer.
func (e *Engine) Stats(ctx context.Context) (*turns.Stats, error) {
	return e.store.Stats(ctx)
}
