package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sentinelx/internal/chat"
	"github.com/kalambet/sentinelx/internal/router"
	"github.com/kalambet/sentinelx/internal/session"
	"github.com/kalambet/sentinelx/internal/storage"
)

const recentSessionsLimit = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Sessions *Registry
	Version  string
}

// NewMCPServer creates an MCP server with the sentinel tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"sentinelx",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("Sentinel-X: a simulated security operations agent. Chat with it, pick a deployment scale, toggle autonomous mode."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("sentinel_chat",
			mcp.WithDescription("Send one line of input to a Sentinel-X chat session and return the routed reply. Omit session_id to start a new session."),
			mcp.WithString("input", mcp.Description("Chat input, e.g. 'scan for threats' or 'quarantine 10.0.0.5'"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Existing session id")),
		),
		mcpChat(deps),
	)

	s.AddTool(
		mcp.NewTool("sentinel_select_scale",
			mcp.WithDescription("Configure the deployment scale of a session and load its network fixtures."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithString("scale", mcp.Description("individual, business or enterprise"), mcp.Required()),
		),
		mcpSelectScale(deps),
	)

	s.AddTool(
		mcp.NewTool("sentinel_toggle_agent",
			mcp.WithDescription("Switch a session between autonomous agent mode and manual control."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
		),
		mcpToggleAgent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"sentinel://sessions/recent",
			"Recent Sessions",
			mcp.WithResourceDescription("The 10 most recently active sessions with their state"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

// chatResult is the sentinel_chat payload.
type chatResult struct {
	SessionID string         `json:"session_id"`
	Reply     string         `json:"reply"`
	Mode      router.Mode    `json:"mode"`
	Topic     router.Topic   `json:"topic"`
	Persona   router.Persona `json:"persona,omitempty"`
	Steps     []router.Step  `json:"steps"`
	State     session.State  `json:"state"`
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("input")
		if err != nil {
			return mcpError("input is required"), nil
		}

		var s *chat.Session
		if id := req.GetString("session_id", ""); id != "" {
			s, err = deps.Sessions.Get(id)
		} else {
			s, err = deps.Sessions.Create()
		}
		if err != nil {
			return mcpError(sessionErrorText(err)), nil
		}

		res, ok := s.Send(input)
		if !ok && s.Closed() {
			return mcpError(sessionErrorText(chat.ErrClosed)), nil
		}
		if !ok {
			return mcpError("input is empty after sanitizing"), nil
		}

		b, err := json.Marshal(chatResult{
			SessionID: s.ID(),
			Reply:     res.Reply,
			Mode:      res.Mode,
			Topic:     res.Topic,
			Persona:   res.Persona,
			Steps:     res.Steps,
			State:     s.State(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reply: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSelectScale(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		raw, err := req.RequireString("scale")
		if err != nil {
			return mcpError("scale is required"), nil
		}
		sc, err := session.ParseScale(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		s, err := deps.Sessions.Get(id)
		if err != nil {
			return mcpError(sessionErrorText(err)), nil
		}
		if err := s.SelectScale(sc); err != nil {
			return mcpError(fmt.Sprintf("failed to select scale: %v", err)), nil
		}

		m := s.Snapshot().Metrics
		return mcpText(fmt.Sprintf("Scale set to %s: %d ranges, %d devices, %d services, exposure %s",
			sc, m.Ranges, m.Devices, m.Services, m.Exposure)), nil
	}
}

func mcpToggleAgent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		s, err := deps.Sessions.Get(id)
		if err != nil {
			return mcpError(sessionErrorText(err)), nil
		}

		st := s.ToggleAgent()
		if st.AgentActive {
			return mcpText("Main Agent active: autonomous mode"), nil
		}
		return mcpText("Main Agent inactive: manual control, discovery and scanning paused"), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries, err := listSessions(deps.Store, recentSessionsLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func sessionErrorText(err error) string {
	if errors.Is(err, ErrSessionNotFound) {
		return "session not found"
	}
	return fmt.Sprintf("session unavailable: %v", err)
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
