package main

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"

	"github.com/sudo-init-do/jobhub/internal/admin"
	"github.com/sudo-init-do/jobhub/internal/app"
	"github.com/sudo-init-do/jobhub/internal/config"
	"github.com/sudo-init-do/jobhub/internal/escrow"
	"github.com/sudo-init-do/jobhub/internal/jobs"
	"github.com/sudo-init-do/jobhub/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			s, err := app.OpenStore(cmd.Context(), cfg.DB, logger())
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.DB.Driver)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reject pending bids left on decided or cancelled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					n   int
					err error
				)
				if jobID != "" {
					n, err = a.Bids.Reconcile(ctx, jobID)
				} else {
					n, err = a.Bids.SweepDecided(ctx)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rejected %d bid(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "reconcile a single job")
	return cmd
}

func jobsCmd() *cobra.Command {
	root := &cobra.Command{Use: "jobs", Short: "Inspect jobs"}

	var (
		f      jobs.Filter
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f.Status = jobs.Status(status)
				items, _, err := a.Jobs.ListPage(ctx, f, store.Page{Limit: limit})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, items, jobRows)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "open|in_progress|completed|cancelled")
	list.Flags().StringVar(&f.ServiceType, "service-type", "", "service type filter")
	list.Flags().StringVar(&f.PostedBy, "posted-by", "", "poster filter")
	list.Flags().IntVar(&limit, "limit", store.DefaultPageSize, "maximum rows")
	root.AddCommand(list)
	return root
}

func paymentsCmd() *cobra.Command {
	root := &cobra.Command{Use: "payments", Short: "Inspect escrow payments"}

	var (
		f      escrow.Filter
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List payments, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f.Status = escrow.Status(status)
				items, _, err := a.Escrow.ListPage(ctx, f, store.Page{Limit: limit})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, items, paymentRows)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "created|held|released|refunded|disputed")
	list.Flags().StringVar(&f.JobID, "job", "", "job filter")
	list.Flags().IntVar(&limit, "limit", store.DefaultPageSize, "maximum rows")
	root.AddCommand(list)
	return root
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Job counts and payment totals by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				o, err := admin.Snapshot(ctx, a.Store)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, o, overviewRows)
			})
		},
	}
}

func devtokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Sign a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			signed, err := signToken(cfg.JWTSecret, userID, role, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&role, "role", "poster", "poster|provider|admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 72*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// signToken issues the same claims the API verifies.
func signToken(secret, userID, role string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET is not set")
	}
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
