package handler

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/fusly/pkg/app"
	"github.com/wadjakorntonsri/fusly/pkg/config"
	"github.com/wadjakorntonsri/fusly/pkg/logging"
)

var (
	once    sync.Once
	router  http.Handler
	bootErr error
)

// On Vercel the local SQLite file is ephemeral; point DATABASE_URL at libSQL
// or PostgreSQL there.
func boot() {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		bootErr = err
		return
	}
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("boot failed", zap.Error(err))
		bootErr = err
		return
	}
	router = a.Router
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(boot)
	if bootErr != nil {
		http.Error(w, `{"error":"internal","message":"internal error"}`, http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}
