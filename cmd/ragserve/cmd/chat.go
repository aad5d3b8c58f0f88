package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var sessionID string
	var useTools bool
	var useAgents bool

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the indexed documents",
		Long: `Chat with the indexed documents.

With a message argument, runs a single turn and exits. Without one,
starts an interactive REPL. Turns are recorded under a session so
follow-up questions keep their context.

Examples:
  ragserve chat "what does the refund policy say?"
  ragserve chat --session 6e0c9a1f
  ragserve chat --tools "what's the weather in Hanoi?"`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, sessionID, strings.Join(args, " "), useTools, useAgents)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to continue (default: new session)")
	cmd.Flags().BoolVar(&useTools, "tools", false, "Enable function-calling tools")
	cmd.Flags().BoolVar(&useAgents, "agents", false, "Route turns through the agent supervisor")

	return cmd
}

func runChat(cmd *cobra.Command, sessionID, message string, useTools, useAgents bool) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	sessionID = a.chat.ResolveSession(sessionID)

	turn := func(text string) error {
		switch {
		case useAgents:
			answer, err := a.supervisor.Handle(cmd.Context(), sessionID, text)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "[%s] %s\n", answer.Route, answer.Content)
		case useTools:
			answer, err := a.chat.AskWithTools(cmd.Context(), sessionID, text)
			if err != nil {
				return err
			}
			for _, step := range answer.ToolTrace {
				fmt.Fprintf(out, "  ~ %s(%s)\n", step.Tool, step.Arguments)
			}
			fmt.Fprintln(out, answer.Content)
		default:
			answer, err := a.chat.Ask(cmd.Context(), sessionID, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, answer.Content)
			for i, src := range answer.Sources {
				fmt.Fprintf(out, "  [%d] %s (%.4f)\n", i+1, snippet(src.Text, 80), src.Score)
			}
		}
		return nil
	}

	if message != "" {
		return turn(message)
	}

	fmt.Fprintf(out, "Session %s. Type a question, or 'exit' to quit.\n", sessionID)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := turn(line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
