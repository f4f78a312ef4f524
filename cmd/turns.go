package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hiermem/hiermem/pkg/compress"
	"github.com/hiermem/hiermem/pkg/engine"
	"github.com/hiermem/hiermem/pkg/turns"
)

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Manage the per-agent conversation turn log",
	Long: `Store, read back, and compress conversation turns.

Each turn belongs to an (agent, session) scope and carries a turn_id.
Storing the same turn_id twice in one scope is rejected; history is
never overwritten.

Examples:
  hiermem turns store --agent planner --turn 1 --message "We target First National Bank"
  hiermem turns recent --agent planner --limit 5
  hiermem turns compressed --agent planner --max-tokens 150 --recent-count 5
  hiermem turns import --file heist.jsonl
  hiermem turns stats`,
}

var turnsStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Append one turn to an agent's log",
	RunE:  runTurnsStore,
}

var turnsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the last N turns in original order",
	RunE:  runTurnsRecent,
}

var turnsCompressedCmd = &cobra.Command{
	Use:   "compressed",
	Short: "Show a token-bounded compressed view of an agent's history",
	RunE:  runTurnsCompressed,
}

var turnsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show turn log statistics",
	RunE:  runTurnsStats,
}

var turnsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load turns from a JSONL file",
	RunE:  runTurnsImport,
}

func init() {
	rootCmd.AddCommand(turnsCmd)
	turnsCmd.AddCommand(turnsStoreCmd)
	turnsCmd.AddCommand(turnsRecentCmd)
	turnsCmd.AddCommand(turnsCompressedCmd)
	turnsCmd.AddCommand(turnsStatsCmd)
	turnsCmd.AddCommand(turnsImportCmd)

	// Summarizer flags, shared by compressed and the servers
	turnsCmd.PersistentFlags().String("summarizer", "", "Summarizer backend: openai, anthropic, static")
	turnsCmd.PersistentFlags().String("openai-base-url", "", "OpenAI-compatible base URL (e.g. http://localhost:1234/v1)")
	turnsCmd.PersistentFlags().String("model", "", "Summarization model name")
	_ = viper.BindPFlag("summarizer.provider", turnsCmd.PersistentFlags().Lookup("summarizer"))
	_ = viper.BindPFlag("summarizer.base_url", turnsCmd.PersistentFlags().Lookup("openai-base-url"))
	_ = viper.BindPFlag("summarizer.model", turnsCmd.PersistentFlags().Lookup("model"))

	// Store flags
	turnsStoreCmd.Flags().String("agent", "", "Agent ID")
	turnsStoreCmd.Flags().Int64("turn", 0, "Turn ID (0 = assigned by the store)")
	turnsStoreCmd.Flags().String("message", "", "Turn message")
	turnsStoreCmd.Flags().String("session-id", "", "Session ID")
	turnsStoreCmd.Flags().String("phase", "", "Conversation phase (e.g. planning, execution)")

	// Recent flags
	turnsRecentCmd.Flags().String("agent", "", "Agent ID")
	turnsRecentCmd.Flags().Int("limit", 5, "Number of trailing turns")
	turnsRecentCmd.Flags().String("session-id", "", "Session ID")

	// Compressed flags
	turnsCompressedCmd.Flags().String("agent", "", "Agent ID")
	turnsCompressedCmd.Flags().Int("max-tokens", compress.DefaultMaxTokens, "Summary token budget")
	turnsCompressedCmd.Flags().Int("recent-count", compress.DefaultRecentCount, "Turns kept verbatim")
	turnsCompressedCmd.Flags().String("session-id", "", "Session ID")

	// Import flags
	turnsImportCmd.Flags().String("file", "", "JSONL file, one turn object per line")
	turnsImportCmd.Flags().String("agent", "", "Agent ID override for all imported turns")
}

// newSummarizer builds the configured summarizer backend. The cascade
// wrapper is applied when an input bound is configured so oversized
// histories fold instead of failing.
func newSummarizer() (compress.Summarizer, error) {
	var (
		s   compress.Summarizer
		err error
	)
	switch provider := viper.GetString("summarizer.provider"); provider {
	case "anthropic":
		s = compress.NewAnthropicSummarizer(compress.AnthropicConfig{
			APIKey: viper.GetString("summarizer.api_key"),
			Model:  viper.GetString("summarizer.model"),
		})
	case "openai":
		s, err = compress.NewOpenAISummarizer(compress.OpenAIConfig{
			BaseURL: viper.GetString("summarizer.base_url"),
			APIKey:  viper.GetString("summarizer.api_key"),
			Model:   viper.GetString("summarizer.model"),
			Timeout: viper.GetDuration("summarizer.timeout"),
		})
	case "", "static":
		s = compress.StaticSummarizer{}
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	if bound := viper.GetInt("summarizer.max_input_tokens"); bound > 0 {
		s = compress.NewCascadeSummarizer(s, bound)
	}
	return s, nil
}

// openEngine builds the engine from config. metrics is nil for one-shot
// CLI commands; the servers register instruments themselves.
func openEngine(metrics *engine.Metrics) (*engine.Engine, *turns.SQLiteStore, error) {
	store, err := turns.NewSQLiteStore(viper.GetString("db"))
	if err != nil {
		return nil, nil, err
	}
	summarizer, err := newSummarizer()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return engine.New(store, summarizer, engine.DefaultConfig(), metrics), store, nil
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func runTurnsStore(cmd *cobra.Command, args []string) error {
	agent, _ := cmd.Flags().GetString("agent")
	message, _ := cmd.Flags().GetString("message")
	turnID, _ := cmd.Flags().GetInt64("turn")
	sessionID, _ := cmd.Flags().GetString("session-id")
	phase, _ := cmd.Flags().GetString("phase")

	if agent == "" {
		return fmt.Errorf("--agent is required")
	}
	if message == "" {
		return fmt.Errorf("--message is required")
	}

	eng, store, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	result, err := eng.Store(context.Background(), engine.StoreRequest{
		AgentID:   agent,
		TurnID:    turnID,
		Message:   message,
		SessionID: sessionID,
		Phase:     phase,
	})
	if err != nil {
		return err
	}

	printJSON(result)
	return nil
}

func runTurnsRecent(cmd *cobra.Command, args []string) error {
	agent, _ := cmd.Flags().GetString("agent")
	limit, _ := cmd.Flags().GetInt("limit")
	sessionID, _ := cmd.Flags().GetString("session-id")

	if agent == "" {
		return fmt.Errorf("--agent is required")
	}

	eng, store, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	result, err := eng.Recent(context.Background(), engine.RecentRequest{
		AgentID:   agent,
		Limit:     limit,
		SessionID: sessionID,
	})
	if err != nil {
		return err
	}

	printJSON(result)
	return nil
}

func runTurnsCompressed(cmd *cobra.Command, args []string) error {
	agent, _ := cmd.Flags().GetString("agent")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	recentCount, _ := cmd.Flags().GetInt("recent-count")
	sessionID, _ := cmd.Flags().GetString("session-id")

	if agent == "" {
		return fmt.Errorf("--agent is required")
	}

	eng, store, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := eng.Compressed(ctx, engine.CompressedRequest{
		AgentID:     agent,
		MaxTokens:   maxTokens,
		RecentCount: recentCount,
		SessionID:   sessionID,
	})
	if err != nil {
		return err
	}

	printJSON(result)
	return nil
}

func runTurnsStats(cmd *cobra.Command, args []string) error {
	eng, store, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := eng.Stats(context.Background())
	if err != nil {
		return err
	}

	printJSON(stats)
	return nil
}

// importLine is one recorded turn in a JSONL replay file.
type importLine struct {
	AgentID   string `json:"agent_id"`
	TurnID    int64  `json:"turn_id"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
}

func runTurnsImport(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	agentOverride, _ := cmd.Flags().GetString("agent")
	if path == "" {
		return fmt.Errorf("--file is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	eng, store, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bar := progressbar.DefaultBytes(info.Size(), "importing turns")

	var stored, duplicates int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		_ = bar.Add(len(scanner.Bytes()) + 1)
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var line importLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if agentOverride != "" {
			line.AgentID = agentOverride
		}

		_, err := eng.Store(context.Background(), engine.StoreRequest{
			AgentID:   line.AgentID,
			TurnID:    line.TurnID,
			Message:   line.Message,
			SessionID: line.SessionID,
			Phase:     line.Phase,
		})
		switch {
		case err == nil:
			stored++
		case isDuplicate(err):
			duplicates++
		default:
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_ = bar.Finish()

	printJSON(map[string]int{"stored": stored, "duplicates_skipped": duplicates})
	return nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, turns.ErrDuplicateTurn)
}
