package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"promo-code-engine/internal/api"
	"promo-code-engine/internal/bundle"
	"promo-code-engine/internal/cache"
	"promo-code-engine/internal/captcha"
	"promo-code-engine/internal/config"
	"promo-code-engine/internal/engine"
	"promo-code-engine/internal/identity"
	"promo-code-engine/internal/remote"
	"promo-code-engine/internal/retry"
	"promo-code-engine/internal/session"
	"promo-code-engine/internal/storage"
)

// CatalogFrom builds the product/promotion catalog from config.
func CatalogFrom(cfg config.Config) engine.Catalog {
	products := make([]engine.ProductSpec, 0, len(cfg.Products))
	for _, p := range cfg.Products {
		products = append(products, engine.ProductSpec{
			Type:            engine.ProductType(p.Type),
			Name:            p.Name,
			Code:            p.Code,
			RequiredChoices: p.RequiredChoices,
		})
	}
	promotions := make(map[engine.Choice]string, len(cfg.Promotions))
	for _, p := range cfg.Promotions {
		promotions[engine.Choice(p.Letter)] = p.ID
	}
	return engine.NewCatalog(products, promotions)
}

// ProfileFrom builds the remote client's impersonation profile from config.
func ProfileFrom(cfg config.Config) remote.Profile {
	headers := make([]remote.Header, 0, len(cfg.Remote.Headers))
	for _, h := range cfg.Remote.Headers {
		headers = append(headers, remote.Header{Name: h.Name, Value: h.Value})
	}
	return remote.Profile{
		Headers:      headers,
		DeviceHeader: cfg.Remote.DeviceHeader,
		WarmupPaths:  cfg.Remote.WarmupPaths,
	}
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := cache.NewSnapshot(CatalogFrom(cfg))
	profile := cache.NewSnapshot(ProfileFrom(cfg))
	config.Watch("configs", func(next config.Config) {
		catalog.Store(CatalogFrom(next))
		profile.Store(ProfileFrom(next))
	})

	gw := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.OperationsPath, cfg.Remote.ConfirmPath, profile, cfg.RemoteTimeout())
	solver := captcha.NewHTTPResolver(cfg.Captcha.Endpoint, cfg.Captcha.APIKey, cfg.Captcha.SiteKey, cfg.CaptchaTimeout())
	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.RetryDelay()}
	eng := engine.New(identity.NewSynthesizer(cfg.Identity.Secret), solver, gw, catalog, policy)
	if cfg.Identity.Secret == "" {
		log.Warn().Msg("identity secret is not set; every run will fail with a configuration error")
	}

	// Run audit (optional)
	var stats api.RunStats
	if cfg.Postgres.Host != "" {
		store, err := storage.New(rootCtx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("init storage")
		}
		defer store.Close()
		eng.WithRecorder(store)
		stats = store
		log.Info().Str("dsn", store.DSNRedacted()).Msg("run audit enabled")
	}

	// Sessions
	var sessions session.Store = session.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, pingCancel := context.WithTimeout(rootCtx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("init redis")
		}
		defer rdb.Close()
		sessions = session.NewRedisStore(rdb, cfg.SessionTTL())
	}

	// HTTP
	h := api.NewHandler(eng, sessions, bundle.NewPackager(bundle.QRRenderer{Size: cfg.Bundle.QRSize}), catalog, stats)
	runTimeout := cfg.CaptchaTimeout() + time.Duration(cfg.Retry.MaxAttempts)*(cfg.RetryDelay()+cfg.RemoteTimeout())
	r := api.Router(h, runTimeout)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: runTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel()
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
