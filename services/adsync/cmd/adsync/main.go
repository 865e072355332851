package main

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/platform/analytics"
	"github.com/example/ads-platform/internal/platform/auth"
	"github.com/example/ads-platform/internal/platform/config"
	"github.com/example/ads-platform/internal/platform/db"
	"github.com/example/ads-platform/internal/platform/httpserver"
	"github.com/example/ads-platform/internal/platform/logging"
	"github.com/example/ads-platform/internal/platform/natsconn"
	"github.com/example/ads-platform/internal/platform/run"
	"github.com/example/ads-platform/internal/platform/signing"
	"github.com/example/ads-platform/services/adsync/internal/adengine"
	adsyncconfig "github.com/example/ads-platform/services/adsync/internal/config"
	"github.com/example/ads-platform/services/adsync/internal/handlers"
	adsynchttp "github.com/example/ads-platform/services/adsync/internal/http"
	"github.com/example/ads-platform/services/adsync/internal/session"
	"github.com/example/ads-platform/services/adsync/internal/store"
	"github.com/example/ads-platform/services/adsync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	svcCfg, err := adsyncconfig.LoadAdsync()
	if err != nil {
		log.Error("load adsync config", zap.Error(err))
		run.Exit(1)
	}

	// NATS is optional: without it, snapshot fan-out and history ingestion
	// are disabled but sessions still work.
	var js nats.JetStreamContext
	nc, err := natsconn.Connect(natsconn.Options{})
	if err != nil {
		log.Warn("nats connect failed, events disabled", zap.Error(err))
		nc = nil
	} else {
		defer nc.Close()
		if js, err = natsconn.JetStream(nc); err != nil {
			log.Warn("jetstream unavailable, events disabled", zap.Error(err))
		}
	}
	events := analytics.New(js, log)

	// Postgres is optional: without it, /history answers 503.
	var history store.SnapshotRepository
	if config.Env("DATABASE_URL", "") != "" {
		pool, err := db.Open(context.Background())
		if err != nil {
			log.Error("db open", zap.Error(err))
			run.Exit(1)
		}
		defer pool.Close()
		history = store.NewPostgresSnapshotRepository(pool)
	}

	manager := session.NewManager(session.Deps{
		Log:          log,
		Client:       adengine.NewClient(svcCfg.AdDecisionURL, log),
		Signer:       signing.New(svcCfg.SigningSecret),
		Events:       events,
		CreativeTTL:  svcCfg.CreativeTTL,
		PollInterval: svcCfg.PollInterval,
	})

	h := &handlers.SessionHandler{
		Manager: manager,
		History: history,
		Events:  events,
		Log:     log,
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r)

	limiter := adsynchttp.NewRateLimiter(float64(svcCfg.RateLimitRPS), svcCfg.RateLimitBurst)
	verifier := auth.JWTVerifier{Secret: svcCfg.JWTSecret}

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(auth.RequireUser(verifier))
		h.Mount(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdminToken(svcCfg.AdminTokenHash))
		r.Delete("/admin/sessions/{id}", h.AdminRelease)
	})

	srv := httpserver.New(httpserver.Options{
		Addr:        cfg.HTTP.Addr,
		ServiceName: cfg.ServiceName,
		Logger:      log,
		Router:      r,
	})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if nc != nil && history != nil {
			go worker.StartSnapshotConsumer(ctx, nc, history, log)
		}
		go func() {
			<-ctx.Done()
			manager.Shutdown()
			runner.Graceful(srv.Shutdown)
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}
