// Package mcp implements the Model Context Protocol transport for memcore:
// thin tool handlers that parse requests, build engine inputs, and call the
// engine — no store or embedder access of its own.
package mcp

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/openclaw/memcore/internal/engine"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/pkg/tokenizer"
)

const defaultContextBudget = 2000

// Server wraps an MCPServer with an engine handle.
type Server struct {
	mcp    *mcpserver.MCPServer
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(eng *engine.Engine, logger *slog.Logger) *Server {
	s := &Server{engine: eng, logger: logger}

	mcpSrv := mcpserver.NewMCPServer(
		"memcore",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildSaveTool(), s.handleSave)
	mcpSrv.AddTool(buildSaveVerifiedTool(), s.handleSaveVerified)
	mcpSrv.AddTool(buildSaveMilestoneTool(), s.handleSaveMilestone)
	mcpSrv.AddTool(buildSearchTool(), s.handleSearch)
	mcpSrv.AddTool(buildGetContextTool(), s.handleGetContext)
	mcpSrv.AddTool(buildResolveConflictTool(), s.handleResolveConflict)
	mcpSrv.AddTool(buildGetTool(), s.handleGet)
	mcpSrv.AddTool(buildGetAllTool(), s.handleGetAll)
	mcpSrv.AddTool(buildGraphStatusTool(), s.handleGraphStatus)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcp }

func xmlEscape(text string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(text)); err != nil {
		return text
	}
	return buf.String()
}

func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

func scopeFromRequest(req mcpgo.CallToolRequest) models.Scope {
	return models.Scope{
		Tenant:  req.GetString("tenant", ""),
		User:    req.GetString("user", ""),
		Agent:   req.GetString("agent", ""),
		Session: req.GetString("session", ""),
		Project: req.GetString("project", ""),
	}
}

func scopeToolOptions() []mcpgo.ToolOption {
	return []mcpgo.ToolOption{
		mcpgo.WithString("tenant", mcpgo.Required(), mcpgo.Description("Tenant identifier")),
		mcpgo.WithString("user", mcpgo.Required(), mcpgo.Description("User identifier")),
		mcpgo.WithString("agent", mcpgo.Description("Optional agent narrowing")),
		mcpgo.WithString("session", mcpgo.Description("Optional session narrowing")),
		mcpgo.WithString("project", mcpgo.Description("Optional project narrowing")),
	}
}

func buildSaveTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Save a memory: embeds content, detects conflicts, dual-writes to the vector store and knowledge graph."),
		mcpgo.WithString("content", mcpgo.Required(), mcpgo.Description("The text content to remember")),
		mcpgo.WithString("category", mcpgo.Description("architecture, problem, solution, status, decision, or generic (default: generic)")),
		mcpgo.WithNumber("confidence", mcpgo.Description("Confidence 1-10 (default: category default)")),
	}
	return mcpgo.NewTool("save", append(opts, scopeToolOptions()...)...)
}

func buildSaveVerifiedTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Save a memory with a required source and confidence >= 7, for facts already validated by a caller."),
		mcpgo.WithString("content", mcpgo.Required(), mcpgo.Description("The text content to remember")),
		mcpgo.WithString("category", mcpgo.Description("architecture, problem, solution, status, decision, or generic (default: generic)")),
		mcpgo.WithString("source", mcpgo.Required(), mcpgo.Description("Attribution for the verified fact")),
		mcpgo.WithNumber("confidence", mcpgo.Description("Confidence 7-10 (default: 9)")),
	}
	return mcpgo.NewTool("save_verified", append(opts, scopeToolOptions()...)...)
}

func buildSaveMilestoneTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Record a project milestone."),
		mcpgo.WithString("content", mcpgo.Required(), mcpgo.Description("Milestone description")),
		mcpgo.WithString("milestone_type", mcpgo.Required(), mcpgo.Description("Milestone type: architecture_decision, problem_identified, solution_implemented, or status_change")),
		mcpgo.WithNumber("impact_level", mcpgo.Required(), mcpgo.Description("Impact level 1-10")),
	}
	return mcpgo.NewTool("save_milestone", append(opts, scopeToolOptions()...)...)
}

func buildSearchTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Hybrid vector+graph search over memories, quality-filtered and ranked."),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("The search query")),
		mcpgo.WithNumber("k", mcpgo.Description("Maximum number of results (default: 5)")),
		mcpgo.WithNumber("min_confidence", mcpgo.Description("Minimum confidence floor")),
	}
	return mcpgo.NewTool("search", append(opts, scopeToolOptions()...)...)
}

func buildGetContextTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Fetch active, high-confidence context for a query, formatted within a token budget."),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("The context query")),
		mcpgo.WithNumber("budget", mcpgo.Description("Token budget for the formatted context (default: 2000)")),
	}
	return mcpgo.NewTool("get_context", append(opts, scopeToolOptions()...)...)
}

func buildResolveConflictTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Consolidate a set of conflicting memories into one authoritative replacement."),
		mcpgo.WithString("conflicting_ids", mcpgo.Required(), mcpgo.Description("Comma-separated IDs of the conflicting records")),
		mcpgo.WithString("correct_content", mcpgo.Required(), mcpgo.Description("The consolidated, correct content")),
		mcpgo.WithString("reason", mcpgo.Description("Why these records conflicted")),
	}
	return mcpgo.NewTool("resolve_conflict", append(opts, scopeToolOptions()...)...)
}

func buildGetTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Fetch a single memory by ID."),
		mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("The record ID to fetch")),
	}
	return mcpgo.NewTool("get", append(opts, scopeToolOptions()...)...)
}

func buildGetAllTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Page through every memory in a scope."),
		mcpgo.WithString("cursor", mcpgo.Description("Opaque pagination cursor from a prior call")),
		mcpgo.WithNumber("limit", mcpgo.Description("Maximum records to return (default: 5)")),
	}
	return mcpgo.NewTool("get_all", append(opts, scopeToolOptions()...)...)
}

func buildGraphStatusTool() mcpgo.Tool {
	return mcpgo.NewTool("graph_status", mcpgo.WithDescription("Report which collaborators (vector store, graph store, cache, pub-sub, clustered locking) are currently available."))
}

func (s *Server) handleSave(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcpgo.NewToolResultError("content is required and must not be empty"), nil
	}
	category := models.Category(req.GetString("category", string(models.CategoryGeneric)))
	if !category.IsValid() {
		return mcpgo.NewToolResultErrorf("invalid category %q", category), nil
	}

	result, err := s.engine.Save(ctx, engine.SaveInput{
		Scope:      scopeFromRequest(req),
		Content:    xmlEscape(content),
		Category:   category,
		Confidence: req.GetInt("confidence", 0),
	})
	if err != nil {
		return mcpgo.NewToolResultErrorf("save failed: %s", err.Error()), nil
	}
	return toolResultJSON(result)
}

func (s *Server) handleSaveVerified(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcpgo.NewToolResultError("content is required and must not be empty"), nil
	}
	category := models.Category(req.GetString("category", string(models.CategoryGeneric)))
	if !category.IsValid() {
		return mcpgo.NewToolResultErrorf("invalid category %q", category), nil
	}

	result, err := s.engine.SaveVerified(ctx, engine.SaveInput{
		Scope:      scopeFromRequest(req),
		Content:    xmlEscape(content),
		Category:   category,
		Source:     req.GetString("source", ""),
		Confidence: req.GetInt("confidence", 0),
	})
	if err != nil {
		return mcpgo.NewToolResultErrorf("save_verified failed: %s", err.Error()), nil
	}
	return toolResultJSON(result)
}

func (s *Server) handleSaveMilestone(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcpgo.NewToolResultError("content is required and must not be empty"), nil
	}

	rec, err := s.engine.SaveMilestone(ctx, engine.MilestoneInput{
		Scope:         scopeFromRequest(req),
		Content:       xmlEscape(content),
		MilestoneType: models.MilestoneType(req.GetString("milestone_type", "")),
		ImpactLevel:   req.GetInt("impact_level", 0),
	})
	if err != nil {
		return mcpgo.NewToolResultErrorf("save_milestone failed: %s", err.Error()), nil
	}
	return toolResultJSON(rec)
}

func (s *Server) handleSearch(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcpgo.NewToolResultError("query is required and must not be empty"), nil
	}

	results, err := s.engine.Search(ctx, engine.SearchInput{
		Scope:         scopeFromRequest(req),
		Query:         query,
		K:             req.GetInt("k", 0),
		MinConfidence: req.GetInt("min_confidence", 0),
	})
	if err != nil {
		return mcpgo.NewToolResultErrorf("search failed: %s", err.Error()), nil
	}
	return toolResultJSON(map[string]any{"results": results})
}

func (s *Server) handleGetContext(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcpgo.NewToolResultError("query is required and must not be empty"), nil
	}
	budget := req.GetInt("budget", defaultContextBudget)
	if budget <= 0 {
		budget = defaultContextBudget
	}

	results, err := s.engine.GetContext(ctx, engine.ContextInput{
		Scope: scopeFromRequest(req),
		Query: query,
	})
	if err != nil {
		return mcpgo.NewToolResultErrorf("get_context failed: %s", err.Error()), nil
	}

	contents := make([]string, len(results))
	for i, r := range results {
		contents[i] = r.Memory.Content
	}
	output, count := tokenizer.FormatMemoriesWithBudget(contents, budget)

	return toolResultJSON(map[string]any{"context": output, "memory_count": count})
}

func (s *Server) handleResolveConflict(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	raw := req.GetString("conflicting_ids", "")
	if strings.TrimSpace(raw) == "" {
		return mcpgo.NewToolResultError("conflicting_ids is required and must not be empty"), nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	correctContent := req.GetString("correct_content", "")
	if strings.TrimSpace(correctContent) == "" {
		return mcpgo.NewToolResultError("correct_content is required and must not be empty"), nil
	}

	rec, err := s.engine.ResolveConflict(ctx, scopeFromRequest(req), ids, xmlEscape(correctContent), req.GetString("reason", ""))
	if err != nil {
		return mcpgo.NewToolResultErrorf("resolve_conflict failed: %s", err.Error()), nil
	}
	return toolResultJSON(rec)
}

func (s *Server) handleGet(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id := req.GetString("id", "")
	if strings.TrimSpace(id) == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}

	rec, err := s.engine.Get(ctx, scopeFromRequest(req), id)
	if err != nil {
		return mcpgo.NewToolResultErrorf("get failed: %s", err.Error()), nil
	}
	return toolResultJSON(rec)
}

func (s *Server) handleGetAll(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	records, next, err := s.engine.GetAll(ctx, scopeFromRequest(req), req.GetString("cursor", ""), req.GetInt("limit", 0))
	if err != nil {
		return mcpgo.NewToolResultErrorf("get_all failed: %s", err.Error()), nil
	}
	return toolResultJSON(map[string]any{"memories": records, "cursor": next})
}

func (s *Server) handleGraphStatus(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return toolResultJSON(s.engine.Capabilities())
}
