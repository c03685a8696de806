// cmd/server/server.go
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/courtmaster/timemap/internal/api"
	"github.com/courtmaster/timemap/internal/api/grid"
	"github.com/courtmaster/timemap/internal/config"
	"github.com/courtmaster/timemap/internal/db"
	"github.com/courtmaster/timemap/internal/ratelimit"
	"github.com/courtmaster/timemap/internal/remote"
	"github.com/courtmaster/timemap/internal/timemap"
)

func newServer(cfg *config.Config, database *db.DB) (*http.Server, *grid.Handler, *remote.Client) {
	router := http.NewServeMux()

	// Setup middleware chain
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	handler := api.ChainMiddleware(
		router,
		api.WithRateLimit(limiter, cfg.App.Environment != "development"),
		api.WithLogging,
		api.WithRecovery,
		api.WithRequestID,
		api.WithContentType,
	)

	client := remote.NewClient(remote.Config{
		BaseURL:     cfg.Upstream.BaseURL,
		PollTimeout: cfg.Upstream.PollTimeout,
		AuthToken:   cfg.Upstream.AuthToken,
	}, log.Logger)

	carveFrom, carveTo := cfg.CarveOutWindow()
	gridHandler := grid.New(client, database, cfg.Pricing.Host, timemap.TrainerCarveOut{
		Hosts:         cfg.Pricing.CarveOutHosts,
		From:          carveFrom,
		To:            carveTo,
		ExcludedColor: cfg.Pricing.ExcludedColor,
	})
	gridHandler.RegisterRoutes(router)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, gridHandler, client
}
