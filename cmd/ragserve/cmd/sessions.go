package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored chat sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsList(cmd)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <session-id>",
		Short: "Delete a session and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsClear(cmd, args[0])
		},
	})

	return cmd
}

func runSessionsList(cmd *cobra.Command) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.history.Sessions(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(out, "%s  %3d messages  %s\n",
			s.SessionID, s.Messages, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionsClear(cmd *cobra.Command, sessionID string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	removed, err := a.history.Clear(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d messages from %s\n", removed, sessionID)
	return nil
}
