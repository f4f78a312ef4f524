package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hiermem/hiermem/pkg/engine"
)

func (m *MCPServer) handleStoreMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	message, _ := args["message"].(string)
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	var turnID int64
	if v, ok := args["turn_id"].(float64); ok && v > 0 {
		turnID = int64(v)
	}

	sessionID, _ := args["session_id"].(string)
	phase, _ := args["phase"].(string)

	result, err := m.engine.Store(ctx, engine.StoreRequest{
		AgentID:   agentID,
		TurnID:    turnID,
		Message:   message,
		SessionID: sessionID,
		Phase:     phase,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store error: %v", err)), nil
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (m *MCPServer) handleGetRecentTurns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	limit := 0
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	sessionID, _ := args["session_id"].(string)

	result, err := m.engine.Recent(ctx, engine.RecentRequest{
		AgentID:   agentID,
		Limit:     limit,
		SessionID: sessionID,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recent error: %v", err)), nil
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (m *MCPServer) handleGetCompressedMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	maxTokens := 0
	if v, ok := args["max_tokens"].(float64); ok && v > 0 {
		maxTokens = int(v)
	}

	recentCount := 0
	if v, ok := args["recent_count"].(float64); ok && v > 0 {
		recentCount = int(v)
	}

	sessionID, _ := args["session_id"].(string)

	result, err := m.engine.Compressed(ctx, engine.CompressedRequest{
		AgentID:     agentID,
		MaxTokens:   maxTokens,
		RecentCount: recentCount,
		SessionID:   sessionID,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("compress error: %v", err)), nil
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (m *MCPServer) handleMemoryStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := m.engine.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
	}

	out, _ := json.MarshalIndent(stats, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
