// Package cmd provides the CLI commands for ragserve.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/minhdn/ragserve/internal/logging"
	"github.com/minhdn/ragserve/internal/profiling"
	"github.com/minhdn/ragserve/pkg/version"
)

var (
	debugMode      bool
	configDir      string
	profileCPU     string
	profileMem     string
	loggingCleanup func()
	cpuStop        func()
)

// NewRootCmd creates the root command for the ragserve CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragserve",
		Short: "Retrieval-augmented chat service",
		Long: `ragserve indexes a folder of documents and serves hybrid
sparse+dense retrieval with reranking, plus a chat API grounded on the
retrieved passages.

Run 'ragserve ingest <folder>' to build the index, then 'ragserve serve'
to start the HTTP API.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("ragserve version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.ragserve/logs/")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing ragserve.yaml")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")

	cmd.PersistentPreRunE = setupRun
	cmd.PersistentPostRunE = teardownRun

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupRun(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// Logging problems must not block the CLI.
		fmt.Fprintf(os.Stderr, "warning: logging setup failed: %v\n", err)
	} else {
		slog.SetDefault(logger)
		loggingCleanup = cleanup
	}

	if profileCPU != "" {
		stop, err := profiling.StartCPU(profileCPU)
		if err != nil {
			return err
		}
		cpuStop = stop
	}
	return nil
}

func teardownRun(_ *cobra.Command, _ []string) error {
	if cpuStop != nil {
		cpuStop()
		cpuStop = nil
	}
	if profileMem != "" {
		if err := profiling.WriteHeap(profileMem); err != nil {
			return err
		}
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
