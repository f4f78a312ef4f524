package compress

import (
	"context"
	"strings"
	"testing"

	"github.com/hiermem/hiermem/pkg/turns"
)

func makeTurns(n int) []turns.Turn {
	ts := make([]turns.Turn, n)
	for i := range ts {
		ts[i] = turns.Turn{
			TurnID:  int64(i + 1),
			AgentID: "planner",
			Message: "message",
		}
	}
	return ts
}

func TestSplit(t *testing.T) {
	all := makeTurns(10)

	old, recent := Split(all, 5)
	if len(old) != 5 || len(recent) != 5 {
		t.Fatalf("expected 5/5 split, got %d/%d", len(old), len(recent))
	}
	if old[len(old)-1].TurnID != 5 {
		t.Errorf("expected old to end at turn 5, got %d", old[len(old)-1].TurnID)
	}
	if recent[0].TurnID != 6 {
		t.Errorf("expected recent to start at turn 6, got %d", recent[0].TurnID)
	}
}

func TestSplitAtBoundary(t *testing.T) {
	all := makeTurns(5)

	// Total == recent_count: nothing to compress.
	old, recent := Split(all, 5)
	if len(old) != 0 {
		t.Errorf("expected empty old set, got %d", len(old))
	}
	if len(recent) != 5 {
		t.Errorf("expected all 5 turns recent, got %d", len(recent))
	}

	// Total == recent_count + 1: exactly one turn ages out.
	old, recent = Split(makeTurns(6), 5)
	if len(old) != 1 || old[0].TurnID != 1 {
		t.Errorf("expected exactly turn 1 in old set, got %v", old)
	}
	if len(recent) != 5 {
		t.Errorf("expected 5 recent turns, got %d", len(recent))
	}
}

func TestSplitFewerThanRecent(t *testing.T) {
	old, recent := Split(makeTurns(2), 5)
	if len(old) != 0 || len(recent) != 2 {
		t.Errorf("expected 0/2 split, got %d/%d", len(old), len(recent))
	}

	old, recent = Split(nil, 5)
	if len(old) != 0 || len(recent) != 0 {
		t.Errorf("expected empty split for no turns, got %d/%d", len(old), len(recent))
	}
}

func TestFormatTurns(t *testing.T) {
	ts := []turns.Turn{
		{TurnID: 1, AgentID: "planner", Message: "We target First National Bank."},
		{TurnID: 2, AgentID: "hacker", Message: "Alarm system is from 2015."},
	}

	got := FormatTurns(ts)
	want := "Turn 1 (planner): We target First National Bank.\nTurn 2 (hacker): Alarm system is from 2015."
	if got != want {
		t.Errorf("FormatTurns mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.text); got != c.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(c.text), got, c.want)
		}
	}
}

func TestStaticSummarizer(t *testing.T) {
	text := FormatTurns(makeTurns(8))

	summary, err := StaticSummarizer{}.Summarize(context.Background(), text, 150)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary == "" {
		t.Fatal("expected non-empty summary")
	}
	if !strings.Contains(summary, "8") {
		t.Errorf("expected turn count in digest, got %q", summary)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt("Turn 1 (planner): hello", 150)
	if !strings.Contains(prompt, "max 150 tokens") {
		t.Errorf("expected budget in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "Turn 1 (planner): hello") {
		t.Errorf("expected conversation text in prompt")
	}
}
