package turns

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite for local persistent storage.
// Uses a single connection (SetMaxOpenConns(1)) so SQLite's internal
// serialization handles concurrency: appends for the same scope are
// linearized, and the UNIQUE constraint on (agent_id, session_id,
// turn_id) is what rejects duplicate turn ids, not application locking.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed turn store.
// Use ":memory:" for in-memory storage or a file path for persistence.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite doesn't support concurrent connections well with in-memory DBs
	// and PRAGMAs are per-connection, so pin to a single connection.
	db.SetMaxOpenConns(1)

	// WAL mode so committed turns survive a process crash.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		memory_id  INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id   TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		turn_id    INTEGER NOT NULL,
		message    TEXT NOT NULL,
		phase      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (agent_id, session_id, turn_id)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_agent ON turns(agent_id, turn_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records a turn. The turn log is append-only: a turn_id collision
// is rejected with ErrDuplicateTurn, never silently overwritten.
func (s *SQLiteStore) Append(ctx context.Context, req AppendRequest) (int64, error) {
	if req.AgentID == "" {
		return 0, ErrEmptyAgentID
	}
	if req.Message == "" {
		return 0, ErrEmptyMessage
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	createdAt := ts.UTC().Format(time.RFC3339Nano)

	var res sql.Result
	var err error
	if req.TurnID > 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO turns (agent_id, session_id, turn_id, message, phase, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			req.AgentID, req.SessionID, req.TurnID, req.Message, req.Phase, createdAt,
		)
	} else {
		// Store-assigned turn id: computed and inserted in one statement
		// so two concurrent auto-assign appends can't pick the same id.
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO turns (agent_id, session_id, turn_id, message, phase, created_at)
			 SELECT ?, ?, COALESCE(MAX(turn_id), 0) + 1, ?, ?, ?
			 FROM turns WHERE agent_id = ? AND session_id = ?`,
			req.AgentID, req.SessionID, req.Message, req.Phase, createdAt,
			req.AgentID, req.SessionID,
		)
	}
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return 0, ErrDuplicateTurn
		}
		return 0, fmt.Errorf("insert turn: %w", err)
	}

	memoryID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return memoryID, nil
}

// Query returns turns for an agent ascending by turn_id. An empty result
// is not an error: an unknown agent or session yields zero turns.
func (s *SQLiteStore) Query(ctx context.Context, req QueryRequest) ([]Turn, error) {
	if req.AgentID == "" {
		return nil, ErrEmptyAgentID
	}

	query := `SELECT memory_id, agent_id, session_id, turn_id, message, phase, created_at
	          FROM turns WHERE agent_id = ?`
	args := []interface{}{req.AgentID}

	if req.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, req.SessionID)
	}

	query += " ORDER BY turn_id ASC, memory_id ASC"

	if req.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, req.Limit)
	}

	return s.scanTurns(ctx, query, args...)
}

// Recent returns the last req.Limit turns in original order.
func (s *SQLiteStore) Recent(ctx context.Context, req RecentRequest) ([]Turn, error) {
	if req.AgentID == "" {
		return nil, ErrEmptyAgentID
	}
	if req.Limit <= 0 {
		return nil, nil
	}

	query := `SELECT memory_id, agent_id, session_id, turn_id, message, phase, created_at
	          FROM turns WHERE agent_id = ?`
	args := []interface{}{req.AgentID}

	if req.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, req.SessionID)
	}

	query += " ORDER BY turn_id DESC, memory_id DESC LIMIT ?"
	args = append(args, req.Limit)

	turns, err := s.scanTurns(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	// Reverse back into original order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Stats returns turn log statistics.
// Each query is scanned and closed before the next to avoid holding
// the single SQLite connection across multiple result sets.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByAgent: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM turns").Scan(&stats.TotalTurns); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT agent_id) FROM turns").Scan(&stats.Agents); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM (SELECT DISTINCT agent_id, session_id FROM turns)",
	).Scan(&stats.Sessions); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT agent_id, COUNT(*) FROM turns GROUP BY agent_id")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var agent string
		var count int
		if err := rows.Scan(&agent, &count); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.ByAgent[agent] = count
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanTurns runs a turn query and scans all rows before closing, since
// the single connection must be free before the caller issues more queries.
func (s *SQLiteStore) scanTurns(ctx context.Context, query string, args ...interface{}) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.MemoryID, &t.AgentID, &t.SessionID, &t.TurnID, &t.Message, &t.Phase, &createdAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	return turns, nil
}
