package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow-access-api/internal/config"
	"chatflow-access-api/internal/database"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/repo"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Expire admin records and idempotency keys",
	Long: `Deactivate admin permissions whose expiry has passed and remove expired idempotency keys.
Each sweep runs even when the other fails; the command exits non-zero if any sweep failed.`,
	RunE: runCleanup,
}

var (
	cleanupSkipAdmins bool
	cleanupSkipKeys   bool
	cleanupTimeout    time.Duration
)

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupSkipAdmins, "skip-admins", false, "do not deactivate expired admin permissions")
	cleanupCmd.Flags().BoolVar(&cleanupSkipKeys, "skip-idempotency", false, "do not delete expired idempotency keys")
	cleanupCmd.Flags().DurationVar(&cleanupTimeout, "timeout", 5*time.Minute, "upper bound for the whole run")
	rootCmd.AddCommand(cleanupCmd)
}

// sweep is one maintenance pass returning the number of rows it touched.
type sweep struct {
	name string
	skip bool
	run  func(ctx context.Context) (int64, error)
}

func runSweeps(ctx context.Context, log *logger.Logger, sweeps []sweep) (map[string]int64, error) {
	counts := make(map[string]int64, len(sweeps))
	var errs []error

	for _, s := range sweeps {
		if s.skip {
			log.Info(ctx, "sweep skipped", logger.Module("cleanup"), logger.Action(s.name))
			continue
		}

		n, err := s.run(ctx)
		if err != nil {
			log.Error(ctx, "sweep failed", logger.Module("cleanup"), logger.Action(s.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		counts[s.name] = n
		log.Info(ctx, "sweep completed", logger.Module("cleanup"), logger.Action(s.name), zap.Int64("rows", n))
	}

	return counts, errors.Join(errs...)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cleanupTimeout)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.OTELServiceName, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	ctx = logger.IntoContext(ctx, log)

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: 2, MinConns: 1, ApplicationName: "chatflow-access-cleanup"})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	admins := repo.NewAdminPermissionRepo(pool)
	keys := repo.NewIdempotencyRepo(pool, cfg.IdempotencyTTL)

	counts, err := runSweeps(ctx, log, []sweep{
		{name: "admin_expiry", skip: cleanupSkipAdmins, run: admins.DeactivateExpired},
		{name: "idempotency_keys", skip: cleanupSkipKeys, run: keys.CleanupExpired},
	})

	fmt.Fprintf(cmd.OutOrStdout(), "cleanup: %d admin permissions expired, %d idempotency keys removed\n",
		counts["admin_expiry"], counts["idempotency_keys"])
	return err
}
