package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hiermem/hiermem/pkg/compress"
	"github.com/hiermem/hiermem/pkg/turns"
)

// fakeSummarizer records what it was asked to compress.
type fakeSummarizer struct {
	mu        sync.Mutex
	calls     int
	lastText  string
	lastMax   int
	summary   string
	err       error
	unblocked chan struct{} // nil = never block
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string, maxTokens int) (string, error) {
	if f.unblocked != nil {
		<-f.unblocked
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = text
	f.lastMax = maxTokens
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func newTestEngine(t *testing.T, s compress.Summarizer) *Engine {
	t.Helper()
	store, err := turns.NewSQLiteStore(filepath.Join(t.TempDir(), "engine_test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, s, DefaultConfig(), nil)
}

func storeTurns(t *testing.T, e *Engine, agent string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		_, err := e.Store(ctx, StoreRequest{
			AgentID: agent,
			TurnID:  int64(i),
			Message: fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatalf("Store turn %d: %v", i, err)
		}
	}
}

func TestCompressedSplitsAndSummarizes(t *testing.T) {
	fake := &fakeSummarizer{summary: "The crew planned the job across five turns."}
	e := newTestEngine(t, fake)
	storeTurns(t, e, "planner", 10)

	res, err := e.Compressed(context.Background(), CompressedRequest{
		AgentID:     "planner",
		MaxTokens:   150,
		RecentCount: 5,
	})
	if err != nil {
		t.Fatalf("Compressed: %v", err)
	}
	if res.CompressedMemory != fake.summary {
		t.Errorf("expected summarizer output, got %q", res.CompressedMemory)
	}
	if len(res.RecentMessages) != 5 {
		t.Fatalf("expected 5 recent messages, got %d", len(res.RecentMessages))
	}
	if res.RecentMessages[0].TurnID != 6 || res.RecentMessages[4].TurnID != 10 {
		t.Errorf("expected recent turns 6..10, got %d..%d",
			res.RecentMessages[0].TurnID, res.RecentMessages[4].TurnID)
	}
	if res.FirstSummarized != 1 || res.LastSummarized != 5 {
		t.Errorf("expected turns 1..5 summarized, got %d..%d", res.FirstSummarized, res.LastSummarized)
	}
	want := fmt.Sprintf("%d chars summary + 5 recent", len(fake.summary))
	if res.TotalSize != want {
		t.Errorf("TotalSize = %q, want %q", res.TotalSize, want)
	}

	// Only the old turns were rendered for the summarizer, in order.
	if !strings.HasPrefix(fake.lastText, "Turn 1 (planner): message 1") {
		t.Errorf("summarizer input should start at turn 1: %q", fake.lastText)
	}
	if strings.Contains(fake.lastText, "Turn 6") {
		t.Errorf("recent turn leaked into summarizer input: %q", fake.lastText)
	}
	if fake.lastMax != 150 {
		t.Errorf("expected max_tokens 150 passed through, got %d", fake.lastMax)
	}
}

func TestCompressedEmptyAgent(t *testing.T) {
	fake := &fakeSummarizer{summary: "unused"}
	e := newTestEngine(t, fake)

	res, err := e.Compressed(context.Background(), CompressedRequest{AgentID: "ghost"})
	if err != nil {
		t.Fatalf("Compressed: %v", err)
	}
	if res.CompressedMemory != "" {
		t.Errorf("expected empty summary, got %q", res.CompressedMemory)
	}
	if res.TotalSize != "small" {
		t.Errorf("expected size descriptor small, got %q", res.TotalSize)
	}
	if res.RecentMessages == nil || len(res.RecentMessages) != 0 {
		t.Errorf("expected empty non-nil recent messages, got %v", res.RecentMessages)
	}
	if fake.calls != 0 {
		t.Errorf("summarizer should not be called for an empty agent")
	}
}

func TestCompressedAtRecencyBoundary(t *testing.T) {
	fake := &fakeSummarizer{summary: "unused"}
	e := newTestEngine(t, fake)
	storeTurns(t, e, "planner", 5)

	res, err := e.Compressed(context.Background(), CompressedRequest{
		AgentID:     "planner",
		RecentCount: 5,
	})
	if err != nil {
		t.Fatalf("Compressed: %v", err)
	}
	if res.TotalSize != "small" || res.CompressedMemory != "" {
		t.Errorf("expected no compression at the boundary, got %q / %q",
			res.TotalSize, res.CompressedMemory)
	}
	if len(res.RecentMessages) != 5 {
		t.Errorf("expected all 5 turns verbatim, got %d", len(res.RecentMessages))
	}
	if fake.calls != 0 {
		t.Error("summarizer must not be called when everything fits the window")
	}

	// One more turn pushes exactly turn 1 past the boundary.
	storeTurns(t, e, "boundary", 6)
	fake.summary = "Turn one aged out."
	res, err = e.Compressed(context.Background(), CompressedRequest{
		AgentID:     "boundary",
		RecentCount: 5,
	})
	if err != nil {
		t.Fatalf("Compressed: %v", err)
	}
	if res.FirstSummarized != 1 || res.LastSummarized != 1 {
		t.Errorf("expected exactly turn 1 summarized, got %d..%d",
			res.FirstSummarized, res.LastSummarized)
	}
}

func TestCompressedSummarizerFailure(t *testing.T) {
	fake := &fakeSummarizer{err: fmt.Errorf("%w: backend down", compress.ErrUnavailable)}
	e := newTestEngine(t, fake)
	storeTurns(t, e, "planner", 10)

	_, err := e.Compressed(context.Background(), CompressedRequest{AgentID: "planner"})
	if !errors.Is(err, compress.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	// The failure corrupts nothing: stores and reads still work.
	if _, err := e.Store(context.Background(), StoreRequest{
		AgentID: "planner", TurnID: 11, Message: "after failure",
	}); err != nil {
		t.Fatalf("Store after summarizer failure: %v", err)
	}
	res, err := e.Recent(context.Background(), RecentRequest{AgentID: "planner", Limit: 11})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if res.TurnCount != 11 {
		t.Errorf("expected 11 intact turns, got %d", res.TurnCount)
	}
}

func TestCompressedWrapsForeignErrors(t *testing.T) {
	fake := &fakeSummarizer{err: errors.New("plain failure")}
	e := newTestEngine(t, fake)
	storeTurns(t, e, "planner", 10)

	_, err := e.Compressed(context.Background(), CompressedRequest{AgentID: "planner"})
	if !errors.Is(err, compress.ErrUnavailable) {
		t.Fatalf("expected foreign error wrapped as ErrUnavailable, got %v", err)
	}
}

func TestCompressedEmptySummary(t *testing.T) {
	e := newTestEngine(t, &fakeSummarizer{summary: ""})
	storeTurns(t, e, "planner", 10)

	_, err := e.Compressed(context.Background(), CompressedRequest{AgentID: "planner"})
	if !errors.Is(err, compress.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for empty summary, got %v", err)
	}
}

func TestRecentDefaultsAndIdempotence(t *testing.T) {
	e := newTestEngine(t, &fakeSummarizer{summary: "s"})
	storeTurns(t, e, "planner", 8)

	res, err := e.Recent(context.Background(), RecentRequest{AgentID: "planner"})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if res.TurnCount != 5 {
		t.Fatalf("expected default limit of 5, got %d", res.TurnCount)
	}
	if res.Turns[0].TurnID != 4 || res.Turns[4].TurnID != 8 {
		t.Errorf("expected turns 4..8 in order, got %d..%d",
			res.Turns[0].TurnID, res.Turns[4].TurnID)
	}

	again, err := e.Recent(context.Background(), RecentRequest{AgentID: "planner"})
	if err != nil {
		t.Fatalf("Recent again: %v", err)
	}
	if len(again.Turns) != len(res.Turns) {
		t.Fatalf("repeated read changed length: %d vs %d", len(again.Turns), len(res.Turns))
	}
	for i := range res.Turns {
		if again.Turns[i] != res.Turns[i] {
			t.Errorf("repeated read changed turn %d: %+v vs %+v", i, again.Turns[i], res.Turns[i])
		}
	}
}

func TestRecentUnknownAgent(t *testing.T) {
	e := newTestEngine(t, &fakeSummarizer{summary: "s"})

	res, err := e.Recent(context.Background(), RecentRequest{AgentID: "nobody"})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if res.TurnCount != 0 || len(res.Turns) != 0 || res.Turns == nil {
		t.Errorf("expected empty non-nil result, got %+v", res)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	e := newTestEngine(t, &fakeSummarizer{summary: "s"})

	stored, err := e.Store(context.Background(), StoreRequest{
		AgentID:   "driver",
		TurnID:    1,
		Message:   "getaway car is ready",
		SessionID: "sess-1",
		Phase:     "planning",
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !stored.Stored || stored.MemoryID == 0 {
		t.Errorf("expected stored result with memory id, got %+v", stored)
	}

	res, err := e.Recent(context.Background(), RecentRequest{AgentID: "driver", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if res.TurnCount != 1 || res.Turns[0].Message != "getaway car is ready" {
		t.Errorf("stored turn did not round-trip: %+v", res)
	}
}

func TestStoreDuplicateTurn(t *testing.T) {
	e := newTestEngine(t, &fakeSummarizer{summary: "s"})

	if _, err := e.Store(context.Background(), StoreRequest{
		AgentID: "planner", TurnID: 1, Message: "original",
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	_, err := e.Store(context.Background(), StoreRequest{
		AgentID: "planner", TurnID: 1, Message: "imposter",
	})
	if !errors.Is(err, turns.ErrDuplicateTurn) {
		t.Fatalf("expected ErrDuplicateTurn, got %v", err)
	}

	res, err := e.Recent(context.Background(), RecentRequest{AgentID: "planner"})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if res.Turns[0].Message != "original" {
		t.Errorf("duplicate overwrote original turn: %q", res.Turns[0].Message)
	}
}

func TestInvalidArguments(t *testing.T) {
	e := newTestEngine(t, &fakeSummarizer{summary: "s"})
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"store empty agent", func() error {
			_, err := e.Store(ctx, StoreRequest{Message: "m"})
			return err
		}},
		{"store empty message", func() error {
			_, err := e.Store(ctx, StoreRequest{AgentID: "a"})
			return err
		}},
		{"store negative turn id", func() error {
			_, err := e.Store(ctx, StoreRequest{AgentID: "a", TurnID: -1, Message: "m"})
			return err
		}},
		{"recent empty agent", func() error {
			_, err := e.Recent(ctx, RecentRequest{})
			return err
		}},
		{"recent negative limit", func() error {
			_, err := e.Recent(ctx, RecentRequest{AgentID: "a", Limit: -1})
			return err
		}},
		{"compressed empty agent", func() error {
			_, err := e.Compressed(ctx, CompressedRequest{})
			return err
		}},
		{"compressed negative budget", func() error {
			_, err := e.Compressed(ctx, CompressedRequest{AgentID: "a", MaxTokens: -1})
			return err
		}},
		{"compressed negative recent count", func() error {
			_, err := e.Compressed(ctx, CompressedRequest{AgentID: "a", RecentCount: -5})
			return err
		}},
	}
	for _, c := range cases {
		if err := c.call(); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got %v", c.name, err)
		}
	}
}

func TestCompressedDoesNotBlockStores(t *testing.T) {
	fake := &fakeSummarizer{summary: "slow summary", unblocked: make(chan struct{})}
	e := newTestEngine(t, fake)
	storeTurns(t, e, "planner", 10)

	done := make(chan error, 1)
	go func() {
		_, err := e.Compressed(context.Background(), CompressedRequest{AgentID: "planner"})
		done <- err
	}()

	// While the summarizer call is parked, writes and reads proceed.
	if _, err := e.Store(context.Background(), StoreRequest{
		AgentID: "planner", TurnID: 11, Message: "stored mid-compression",
	}); err != nil {
		t.Fatalf("Store during compression: %v", err)
	}
	if _, err := e.Recent(context.Background(), RecentRequest{AgentID: "planner"}); err != nil {
		t.Fatalf("Recent during compression: %v", err)
	}

	close(fake.unblocked)
	if err := <-done; err != nil {
		t.Fatalf("Compressed: %v", err)
	}

	// The result came from the snapshot taken before the write.
	if strings.Contains(fake.lastText, "stored mid-compression") {
		t.Error("mid-compression write leaked into the snapshot")
	}
}

func TestStatsPassthrough(t *testing.T) {
	e := newTestEngine(t, &fakeSummarizer{summary: "s"})
	storeTurns(t, e, "planner", 3)
	storeTurns(t, e, "hacker", 2)

	stats, err := e.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalTurns != 5 || stats.Agents != 2 {
		t.Errorf("expected 5 turns over 2 agents, got %+v", stats)
	}
}
