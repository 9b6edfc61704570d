package main

import (
	"go.uber.org/zap"

	config "github.com/civicworks/sessiond/internal/config/sessiond"
	"github.com/civicworks/sessiond/internal/obs"
)

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return obs.NewLogger(obs.LogConfig{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		App:    cfg.App.Name,
		Env:    cfg.App.Env,
		Ver:    cfg.App.Version,
	})
}
