package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/macjediwizard/coursesync/internal/db"
)

var syncEmail string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass for a user and print the report as JSON",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncEmail, "email", "", "email address of the user to sync")
	_ = syncCmd.MarkFlagRequired("email")
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.db.GetUserByEmail(strings.TrimSpace(syncEmail))
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("no user with email %q", syncEmail)
	}
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := a.engine.Run(ctx, user.ID, "cli", nil)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
