// Command jobhubctl is the operator CLI: schema migration, reconciliation sweeps, read-only
// listings and local development tokens.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/jobhub/internal/app"
	"github.com/sudo-init-do/jobhub/internal/config"
)

var output string

var rootCmd = &cobra.Command{
	Use:           "jobhubctl",
	Short:         "Operate a jobhub deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: table|json|yaml")
	rootCmd.AddCommand(migrateCmd(), reconcileCmd(), jobsCmd(), paymentsCmd(), statsCmd(), devtokenCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// withApp opens the configured store and runs fn against engines without a task queue.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	l := logger()
	s, err := app.OpenStore(ctx, cfg.DB, l)
	if err != nil {
		return err
	}
	a, err := app.Assemble(cfg, l, s, nil)
	if err != nil {
		_ = s.Close()
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
