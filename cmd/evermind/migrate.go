package main

import (
	"context"
	"fmt"
	"log"

	"github.com/evermind-ai/evermind/internal/adapters/postgres"
	"github.com/spf13/cobra"
)

// migrateCmd applies the database schema
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Create or update the Evermind schema: the pgvector extension, all
tables and all indexes. The embedding column is sized from the
configured embedding dimensions.

The migration is idempotent and safe to run on every deploy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	log.Println("Connecting to PostgreSQL...")
	pool, err := initDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	log.Printf("Applying schema (embedding dimensions: %d)...", cfg.Embedding.Dimensions)
	if err := postgres.Migrate(ctx, pool, cfg.Embedding.Dimensions); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Schema up to date")
	return nil
}
