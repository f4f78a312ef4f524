// Package turns provides the durable, append-only log of conversation
// turns behind the hierarchical memory engine. Turns are immutable once
// appended; everything else in the system is a derived view over this log.
package turns

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by turn stores.
var (
	ErrDuplicateTurn = errors.New("turn_id already stored for this agent and session")
	ErrEmptyAgentID  = errors.New("agent_id is empty")
	ErrEmptyMessage  = errors.New("message is empty")
)

// Turn is one immutable recorded message attributed to an agent at a
// point in a conversation.
type Turn struct {
	MemoryID  int64     `json:"memory_id"`
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id,omitempty"`
	TurnID    int64     `json:"turn_id"`
	Message   string    `json:"message"`
	Phase     string    `json:"phase,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendRequest is the input for appending a turn.
type AppendRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id,omitempty"`

	// TurnID keys a single message within (agent_id, session_id).
	// Zero means the store assigns the next free id itself.
	TurnID int64 `json:"turn_id,omitempty"`

	Message string `json:"message"`
	Phase   string `json:"phase,omitempty"`

	// Timestamp overrides the creation instant, used when replaying
	// recorded conversations. Zero means now.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// QueryRequest selects turns for an agent, ascending by turn_id.
type QueryRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id,omitempty"` // empty = all sessions for the agent
	Limit     int    `json:"limit,omitempty"`      // 0 = no limit
}

// RecentRequest selects the last Limit turns in original order.
type RecentRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit"`
}

// Stats contains turn store statistics.
type Stats struct {
	TotalTurns int            `json:"total_turns"`
	Agents     int            `json:"agents"`
	Sessions   int            `json:"sessions"`
	ByAgent    map[string]int `json:"by_agent,omitempty"`
}

// Store is the interface for durable turn log backends.
type Store interface {
	// Append records a turn and returns its store-assigned memory id.
	// Returns ErrDuplicateTurn when turn_id is already present for the
	// (agent_id, session_id) scope; committed turns are never overwritten.
	Append(ctx context.Context, req AppendRequest) (int64, error)

	// Query returns turns ascending by turn_id. Omitting the session id
	// returns turns across all sessions for the agent.
	Query(ctx context.Context, req QueryRequest) ([]Turn, error)

	// Recent returns the last req.Limit turns in original order. Fewer
	// turns present means all of them are returned.
	Recent(ctx context.Context, req RecentRequest) ([]Turn, error)

	// Stats returns turn log statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases resources held by the store.
	Close() error
}
