package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/unclebandit/campaign-lifecycle/internal/config"
	"github.com/unclebandit/campaign-lifecycle/internal/db"
	"github.com/unclebandit/campaign-lifecycle/internal/logging"
)

func main() {
	migrationsDir := flag.String("migrations", "migrations", "directory of schema migrations")
	seedDir := flag.String("seed", "seed", "directory of seed data")
	skipSeed := flag.Bool("schema-only", false, "apply migrations without seed data")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.Setup("campaign-lifecycle-seeder", cfg.Env)

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	dirs := []string{*migrationsDir}
	if !*skipSeed {
		dirs = append(dirs, *seedDir)
	}
	for _, dir := range dirs {
		files, err := sqlFiles(dir)
		if err != nil {
			logger.Error("failed to list files", "dir", dir, "err", err)
			os.Exit(1)
		}
		for _, file := range files {
			content, err := os.ReadFile(file)
			if err != nil {
				logger.Error("failed to read file", "file", file, "err", err)
				os.Exit(1)
			}
			if _, err := conn.ExecContext(ctx, string(content)); err != nil {
				logger.Error("failed to execute file", "file", file, "err", err)
				os.Exit(1)
			}
			logger.Info("applied", "file", file)
		}
	}

	fmt.Println("Database seeding completed successfully!")
}

// sqlFiles lists dir's .sql files in name order.
func sqlFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
