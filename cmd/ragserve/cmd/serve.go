package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/minhdn/ragserve/internal/server"
)

func newServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Exposes retrieval (/search), chat (/chat, /chat/tools, /chat/agents),
session management and folder ingestion over REST.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, host string, port int) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if host == "" {
		host = a.cfg.Server.Host
	}
	if port == 0 {
		port = a.cfg.Server.Port
	}

	srv := server.New(server.Config{
		Orchestrator: a.orch,
		Chat:         a.chat,
		Supervisor:   a.supervisor,
		Pipeline:     a.pipeline,
		History:      a.history,
		Logger:       slog.Default(),
	})

	addr := fmt.Sprintf("%s:%d", host, port)
	fmt.Fprintf(cmd.OutOrStdout(), "ragserve listening on http://%s\n", addr)
	return srv.Run(addr)
}
