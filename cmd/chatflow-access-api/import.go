package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"chatflow-access-api/internal/config"
	"chatflow-access-api/internal/database"
	"chatflow-access-api/internal/observability/logger"
	"chatflow-access-api/internal/provisioning"
	"chatflow-access-api/internal/repo"
	"chatflow-access-api/internal/telemetry"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Provision chatflow permissions from a CSV file",
	Long:  `Run the bulk provisioning pipeline against a local CSV file, outside the HTTP surface.`,
	RunE:  runImport,
}

var (
	importFile  string
	importActor string
)

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to the CSV file")
	importCmd.Flags().StringVar(&importActor, "actor", "", "user id recorded as the grantor")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("actor")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

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

	f, err := os.Open(importFile)
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: 4, ApplicationName: "chatflow-access-import"})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	uploads, err := newBatchUploadService(ctx, cfg, pool, repo.NewAuditRepo(pool), log, telemetry.NewNopAccessMetrics())
	if err != nil {
		return err
	}

	result, err := uploads.Import(ctx, importActor, filepath.Base(importFile), f)
	if err != nil {
		printRejection(cmd.ErrOrStderr(), err)
		return fmt.Errorf("import rejected: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// printRejection lists the per-row or per-reference details of a rejected batch.
func printRejection(w io.Writer, err error) {
	var (
		validation  *provisioning.ValidationError
		referential *provisioning.ReferentialError
	)
	switch {
	case errors.As(err, &validation):
		for _, e := range validation.Errors {
			fmt.Fprintf(w, "row %d: %s: %s\n", e.Row, e.Field, e.Message)
		}
	case errors.As(err, &referential):
		for _, id := range referential.InvalidChatflowIDs {
			fmt.Fprintf(w, "unknown chatflow: %s\n", id)
		}
		for _, id := range referential.InvalidCourseIDs {
			fmt.Fprintf(w, "unknown course: %s\n", id)
		}
	}
}
