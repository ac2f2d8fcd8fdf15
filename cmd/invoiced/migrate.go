package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"invoicing-engine/internal/db"
	"invoicing-engine/internal/logger"
)

var migrateDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logger.WithComponent("migrate")

		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		entries, err := os.ReadDir(migrateDir)
		if err != nil {
			return fmt.Errorf("read migrations dir %s: %w", migrateDir, err)
		}
		var files []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
				files = append(files, e.Name())
			}
		}
		sort.Strings(files)

		for _, name := range files {
			sqlFile, err := os.ReadFile(filepath.Join(migrateDir, name))
			if err != nil {
				return fmt.Errorf("read migration %s: %w", name, err)
			}
			if _, err := pool.Exec(ctx, string(sqlFile)); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
			log.Info().Str("migration", name).Msg("applied")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrateDir, "dir", "migrations", "Directory containing .sql migrations")
}
