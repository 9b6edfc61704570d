package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	config "github.com/civicworks/sessiond/internal/config/sessiond"
	"github.com/civicworks/sessiond/internal/obs"
	kafkarepo "github.com/civicworks/sessiond/internal/repository/kafka"
	pg "github.com/civicworks/sessiond/internal/repository/postgres"
	sessionsvc "github.com/civicworks/sessiond/internal/services/session"

	domainsession "github.com/civicworks/sessiond/internal/domain/session"
)

func buildHTTPServer(cfg *config.Config, logger *zap.Logger, db *pg.DB) (*http.Server, func(), error) {
	tokenRepo := pg.NewRefreshTokenRepo(db)
	principalRepo := pg.NewPrincipalRepo(db)
	tx := pg.NewTransactor(db, logger)

	var events domainsession.SecurityEvents
	closeEvents := func() {}
	if cfg.Events.Enable {
		producer := kafkarepo.NewProducer(cfg.Events.Brokers, cfg.Events.Topic).WithLogger(logger)
		events = kafkarepo.NewSecurityEventsKafka(producer)
		closeEvents = func() { _ = producer.Close() }
	}

	uc, err := sessionsvc.NewUsecase(tokenRepo, principalRepo, tx, events, sessionsvc.Config{
		Secret:     []byte(cfg.Auth.JWTSecret),
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	}, logger)
	if err != nil {
		closeEvents()
		return nil, nil, err
	}

	srv := sessionsvc.NewServer(uc, principalRepo, sessionsvc.Opts{
		Logger:       logger,
		MintToken:    cfg.Auth.MintToken,
		CookieDomain: cfg.Auth.CookieDomain,
		CookieSecure: cfg.Auth.CookieSecure,
		RefreshPath:  cfg.Auth.RefreshPath,
	})

	root := http.NewServeMux()
	srv.Register(root)
	root.Handle("/metrics", obs.MetricsHandler())
	root.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		hctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := db.Pool.Ping(hctx); err != nil {
			http.Error(w, "unhealthy: db", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	handler := cors(cfg.Server.CORSOrigins)(root)
	handler = obs.InstrumentHTTP(handler, "sessiond.http")

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	return httpSrv, closeEvents, nil
}

func serveHTTP(srv *http.Server, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
	return srv.ListenAndServe()
}

func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
