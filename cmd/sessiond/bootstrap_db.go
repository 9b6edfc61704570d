package main

import (
	"context"

	config "github.com/civicworks/sessiond/internal/config/sessiond"
	pg "github.com/civicworks/sessiond/internal/repository/postgres"
)

func initDB(ctx context.Context, cfg *config.Config) (*pg.DB, error) {
	return pg.NewDB(ctx, cfg.DB)
}
