package cmd

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hiermem/hiermem/pkg/engine"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long: `Expose the memory engine as MCP tools over stdio.

Tools:
  store_memory           Append one turn to an agent's log
  get_recent_turns       Last N turns in original order
  get_compressed_memory  Summary of old turns + recent turns verbatim
  memory_stats           Turn log statistics

Each tool carries a full description so MCP clients can discover the
memory operations without any client-side configuration.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// MCPServer bridges MCP tool calls to the engine.
type MCPServer struct {
	engine *engine.Engine
}

func runMCP(cmd *cobra.Command, args []string) error {
	shutdown, err := setupTracing(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	eng, store, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	m := &MCPServer{engine: eng}

	s := server.NewMCPServer(
		"hiermem",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("store_memory",
		mcp.WithDescription("Append one conversation turn to an agent's memory. "+
			"Turns are immutable; storing an existing turn_id for the same agent and session is rejected."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent identity owning the turn")),
		mcp.WithNumber("turn_id", mcp.Description("Position in the conversation; omit or 0 to let the store assign the next id")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Turn text")),
		mcp.WithString("session_id", mcp.Description("Optional session scope within the agent")),
		mcp.WithString("phase", mcp.Description("Optional conversation phase label")),
	), m.handleStoreMemory)

	s.AddTool(mcp.NewTool("get_recent_turns",
		mcp.WithDescription("Get the last N turns for an agent in original conversational order. "+
			"Read-only; an unknown agent yields an empty list."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent identity to read")),
		mcp.WithNumber("limit", mcp.Description("How many trailing turns to return (default 5)")),
		mcp.WithString("session_id", mcp.Description("Optional session scope within the agent")),
	), m.handleGetRecentTurns)

	s.AddTool(mcp.NewTool("get_compressed_memory",
		mcp.WithDescription("Get a token-bounded view of an agent's history: older turns are "+
			"summarized within max_tokens, the last recent_count turns are returned verbatim. "+
			"Short histories skip summarization entirely."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent identity to read")),
		mcp.WithNumber("max_tokens", mcp.Description("Summary token budget (default 150)")),
		mcp.WithNumber("recent_count", mcp.Description("Turns kept verbatim (default 5)")),
		mcp.WithString("session_id", mcp.Description("Optional session scope within the agent")),
	), m.handleGetCompressedMemory)

	s.AddTool(mcp.NewTool("memory_stats",
		mcp.WithDescription("Turn log statistics: total turns, agents, sessions, and per-agent counts."),
	), m.handleMemoryStats)

	slog.Info("starting MCP server on stdio", "db", viper.GetString("db"))
	return server.ServeStdio(s)
}
