// Command seed applies the cart migrations and upserts a demo catalog of
// products, variants and courses into PostgreSQL.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/syntex82/nodepress/pkg/database"
	"github.com/syntex82/nodepress/pkg/logger"
	"github.com/syntex82/nodepress/services/cart/internal/config"
	"github.com/syntex82/nodepress/services/cart/internal/seed"
	"github.com/syntex82/nodepress/services/cart/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("cart-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pgCfg := cfg.PostgresConfig()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		log.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := seed.Postgres(ctx, pool, log); err != nil {
		log.Error("failed to seed catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
