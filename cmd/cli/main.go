package main

import (
	"context"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/advaic/reply-gateway/internal/config"
	"github.com/advaic/reply-gateway/internal/repository"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/pg"
)

// main.go --migrate --dir=./migrations
// main.go --normalize
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	pgConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
		SSLMode:  config.Get().PostgresSSLMode,
	}

	migrate := hasFlag("--migrate")
	normalize := hasFlag("--normalize")
	if !migrate && !normalize {
		migrate = true
	}

	if migrate {
		if err = pg.Migrate(pgConf, getMigrationPath()); err != nil {
			logger.Error("migration: error running migrations", "error", err)
			return
		}
		logger.Info("migration: done")
	}

	if normalize {
		db, err := pg.CreateReadWrite(pgConf, pgConf, false)
		if err != nil {
			logger.Error("normalize: failed connecting to pg", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		res, err := repository.NewLeadRepository(db).NormalizeLegacy(ctx)
		if err != nil {
			logger.Error("normalize: failed", "error", err, "scanned", res.Scanned, "updated", res.Updated)
			return
		}
		logger.Info("normalize: done", "scanned", res.Scanned, "updated", res.Updated, "skipped", strings.Join(res.Skipped, ","))
	}
}

func hasFlag(name string) bool {
	return slices.Contains(os.Args[1:], name)
}

func getEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	if _, err := os.Open(".env"); err != nil {
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--dir=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed migration dir, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return "./migrations"
}
