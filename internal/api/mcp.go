package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ticketboard/internal/ticket"
)

// Board is the client-side ticket collection the MCP tools act on.
type Board interface {
	Load(ctx context.Context) ([]ticket.Ticket, error)
	Create(ctx context.Context, f ticket.Fields) (ticket.Ticket, error)
	Move(ctx context.Context, id string, status ticket.Status) (ticket.Ticket, error)
	Edit(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error)
	Delete(ctx context.Context, id string) error
	Snapshot() []ticket.Ticket
	Get(id string) (ticket.Ticket, bool)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Board Board
}

func statusValues() []string {
	out := make([]string, len(ticket.Statuses))
	for i, s := range ticket.Statuses {
		out[i] = string(s)
	}
	return out
}

func priorityValues() []string {
	out := make([]string, len(ticket.Priorities))
	for i, p := range ticket.Priorities {
		out[i] = string(p)
	}
	return out
}

// NewMCPServer creates an MCP server exposing the board's intents as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ticketboard",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ticketboard: IT support tickets on a kanban board (pending, in_progress, in_testing, done, archived)."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_tickets",
			mcp.WithDescription("List tickets on the board, optionally reloading from the ticket store first."),
			mcp.WithString("status", mcp.Description("Only return tickets in this column"), mcp.Enum(statusValues()...)),
			mcp.WithBoolean("refresh", mcp.Description("Reload the board from the ticket store before listing")),
		),
		mcpListTickets(deps),
	)

	s.AddTool(
		mcp.NewTool("create_ticket",
			mcp.WithDescription("Open a new support ticket."),
			mcp.WithString("title", mcp.Description("Short summary"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What is wrong"), mcp.Required()),
			mcp.WithString("assignee", mcp.Description("Person responsible"), mcp.Required()),
			mcp.WithString("priority", mcp.Description("Defaults to medium"), mcp.Enum(priorityValues()...)),
			mcp.WithString("status", mcp.Description("Defaults to pending"), mcp.Enum(statusValues()...)),
		),
		mcpCreateTicket(deps),
	)

	s.AddTool(
		mcp.NewTool("move_ticket",
			mcp.WithDescription("Move a ticket to another column."),
			mcp.WithString("id", mcp.Description("Ticket id"), mcp.Required()),
			mcp.WithString("status", mcp.Description("Target column"), mcp.Required(), mcp.Enum(statusValues()...)),
		),
		mcpMoveTicket(deps),
	)

	s.AddTool(
		mcp.NewTool("edit_ticket",
			mcp.WithDescription("Change a ticket's fields. Omitted fields keep their current value."),
			mcp.WithString("id", mcp.Description("Ticket id"), mcp.Required()),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("description", mcp.Description("New description")),
			mcp.WithString("assignee", mcp.Description("New assignee")),
			mcp.WithString("priority", mcp.Description("New priority"), mcp.Enum(priorityValues()...)),
		),
		mcpEditTicket(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_ticket",
			mcp.WithDescription("Delete a ticket permanently."),
			mcp.WithString("id", mcp.Description("Ticket id"), mcp.Required()),
		),
		mcpDeleteTicket(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"board://columns",
			"Ticket Board",
			mcp.WithResourceDescription("Current board grouped by status column"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceBoard(deps),
	)

	return s
}

func mcpListTickets(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if req.GetBool("refresh", false) {
			if _, err := deps.Board.Load(ctx); err != nil {
				return mcpError(err.Error()), nil
			}
		}

		tickets := deps.Board.Snapshot()
		if status := req.GetString("status", ""); status != "" {
			st, err := ticket.ParseStatus(status)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			filtered := make([]ticket.Ticket, 0, len(tickets))
			for _, t := range tickets {
				if t.Status == st {
					filtered = append(filtered, t)
				}
			}
			tickets = filtered
		}
		return mcpJSON(tickets)
	}
}

func mcpCreateTicket(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := ticket.Fields{
			Title:       req.GetString("title", ""),
			Description: req.GetString("description", ""),
			Assignee:    req.GetString("assignee", ""),
			Priority:    ticket.Priority(req.GetString("priority", "")),
			Status:      ticket.Status(req.GetString("status", "")),
		}.Normalize()
		if err := f.Validate(); err != nil {
			return mcpError(err.Error()), nil
		}

		t, err := deps.Board.Create(ctx, f)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Created ticket %s in %s", t.ID, t.Status.Label())), nil
	}
}

func mcpMoveTicket(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		raw, err := req.RequireString("status")
		if err != nil {
			return mcpError("status is required"), nil
		}
		status, err := ticket.ParseStatus(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		before, _ := deps.Board.Get(id)
		t, err := deps.Board.Move(ctx, id, status)
		if err != nil {
			msg := err.Error()
			// Another move may have landed while this one was in flight.
			if cur, ok := deps.Board.Get(id); ok {
				msg += fmt.Sprintf(" (ticket stays in %s)", cur.Status.Label())
			}
			return mcpError(msg), nil
		}
		if before.Status == status {
			return mcpText(fmt.Sprintf("Ticket %s is already in %s", id, status.Label())), nil
		}
		return mcpText(fmt.Sprintf("Moved ticket %s to %s", t.ID, t.Status.Label())), nil
	}
}

func mcpEditTicket(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		cur, ok := deps.Board.Get(id)
		if !ok {
			return mcpError(fmt.Sprintf("ticket %s not found", id)), nil
		}

		f := cur.Fields()
		f.Title = req.GetString("title", f.Title)
		f.Description = req.GetString("description", f.Description)
		f.Assignee = req.GetString("assignee", f.Assignee)
		if raw := req.GetString("priority", ""); raw != "" {
			p, err := ticket.ParsePriority(raw)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			f.Priority = p
		}
		f = f.Normalize()
		if err := f.Validate(); err != nil {
			return mcpError(err.Error()), nil
		}

		t, err := deps.Board.Edit(ctx, cur.WithFields(f))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Updated ticket %s", t.ID)), nil
	}
}

func mcpDeleteTicket(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		if err := deps.Board.Delete(ctx, id); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Deleted ticket %s", id)), nil
	}
}

type boardColumn struct {
	Status  ticket.Status   `json:"status"`
	Label   string          `json:"label"`
	Count   int             `json:"count"`
	Tickets []ticket.Ticket `json:"tickets"`
}

func mcpResourceBoard(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cols := ticket.GroupByStatus(deps.Board.Snapshot())
		out := make([]boardColumn, len(cols))
		for i, c := range cols {
			tickets := c.Tickets
			if tickets == nil {
				tickets = []ticket.Ticket{}
			}
			out[i] = boardColumn{Status: c.Status, Label: c.Status.Label(), Count: len(tickets), Tickets: tickets}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal board: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
