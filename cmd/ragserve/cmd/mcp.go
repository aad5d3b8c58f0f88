package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/minhdn/ragserve/internal/agent"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve retrieval over MCP on stdio",
		Long: `Serve retrieval over the Model Context Protocol on stdio.

Exposes 'retrieve' (hybrid search) and 'answer' (grounded question
answering) as MCP tools, for use from MCP-capable clients.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			srv, err := agent.NewServer(a.orch, a.chat, slog.Default())
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context())
		},
	}
}
