package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/cafestream/internal/auth"
	"github.com/alfredjeanlab/cafestream/internal/config"
	"github.com/alfredjeanlab/cafestream/internal/model"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Short:   "Manage bearer sessions",
	GroupID: "system",
	// Sessions are written to the database directly, not through the API.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <user-id>",
	Short: "Issue a bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("CAFE_DATABASE_URL is required to issue sessions")
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		tok, sess, err := auth.IssueSession(context.Background(), st, args[0], model.Role(role), ttl)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]any{"token": tok, "session": sess})
			return nil
		}
		fmt.Fprintf(os.Stderr, "Issued %s session for %s", sess.Role, sess.UserID)
		if !sess.ExpiresAt.IsZero() {
			fmt.Fprintf(os.Stderr, " (expires %s)", sess.ExpiresAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(os.Stderr)
		fmt.Println(tok)
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().String("role", string(model.RoleCustomer), "customer, staff or owner")
	sessionCreateCmd.Flags().Duration("ttl", 0, "session lifetime (0 = never expires)")
	sessionCmd.AddCommand(sessionCreateCmd)
}
