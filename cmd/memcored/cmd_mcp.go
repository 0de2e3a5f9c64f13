package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	memcoremcp "github.com/openclaw/memcore/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  save              — store a memory (embed, extract entities/relations, dual write)
  save_verified     — store a high-confidence, attributed memory
  save_milestone    — record a project milestone
  search            — hybrid vector+graph search with quality filtering
  get_context       — active, high-confidence context formatted to a token budget
  resolve_conflict  — consolidate conflicting records into one replacement
  get               — fetch a single memory by ID
  get_all           — page through every memory in a scope
  graph_status      — report which collaborators are currently available`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger()

			eng, err := newEngine(ctx)
			if err != nil {
				return fmt.Errorf("mcp: wiring engine: %w", err)
			}

			srv := memcoremcp.NewServer(eng, logger)

			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: memcore MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}
	return cmd
}
