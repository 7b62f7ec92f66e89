package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/colorramp"
	v1 "github.com/jaennil/guide_helper/backend/isochrone/internal/infrastructure/http/v1"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/interaction"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/render"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/routing"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/usecase"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/config"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/http_server"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/telemetry"
)

func Run(cfg *config.Config) {
	l := logger.NewZapLogger(cfg.Logger)
	defer func() { _ = l.Sync() }()

	l.Info("app config", "cfg", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry if enabled
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
		l.Info("telemetry initialized", "service", cfg.Telemetry.ServiceName)
	}

	store, closeStore, err := newFeatureStore(ctx, cfg, l)
	if err != nil {
		l.Fatal("failed to open feature store", "kind", cfg.Store.Kind, "error", err)
	}
	defer closeStore.Close()

	tileCache, closeCache := newTileCache(cfg, l)
	defer closeCache()

	colorMode, err := render.ParseColorMode(cfg.Render.ColorMode)
	if err != nil {
		l.Fatal("invalid render config", "error", err)
	}

	colors := colormapper.New(colorramp.Default())
	renderer := render.NewRenderer(store, render.Config{
		TileSize:         cfg.Render.TileSize,
		LineWidth:        cfg.Render.LineWidth,
		MaxFeatures:      cfg.Render.MaxFeatures,
		MarginPx:         cfg.Render.MarginPx,
		YieldProbability: cfg.Render.YieldProbability,
		YieldPause:       cfg.Render.YieldPause,
		ColorMode:        colorMode,
		// vector tiles repeat clipped copies of an edge under one id
		GeometryCache:    cfg.Render.GeometryCache && cfg.Store.Kind != storeMVT,
	}, l)

	backend := routing.NewClient(routing.Config{
		BaseURL:        cfg.Backend.BaseURL,
		Timeout:        cfg.Backend.Timeout,
		ReplyCacheSize: cfg.Backend.ReplyCacheSz,
	}, l)

	hover := interaction.NewController(store, colors, backend, interaction.Config{
		TileSize:    cfg.Render.TileSize,
		LineWidth:   cfg.Render.LineWidth,
		HitBufferPx: cfg.Interaction.HitBufferPx,
		Debounce:    cfg.Interaction.Debounce,
		ColorMode:   colorMode,
	}, l)

	tiles := usecase.NewTileUseCase(tileCache, renderer, colors, l)
	session := usecase.NewSession(colors, tiles, backend, hover, usecase.SessionConfig{
		DefaultDuration: cfg.Session.DefaultDuration,
		LayerRetryDelay: cfg.Session.LayerRetryDelay,
	}, l)

	// Initialize the HTTP handler
	validate := validator.New()
	h := handler.NewHandler(validate, tiles, session, backend)
	router := v1.NewRouter(h, l, cfg)

	// requests outlive the signal until Shutdown drains them
	httpServer := http_server.NewServer(logger.WithLogger(context.Background(), l), cfg.HTTP.Server, router)

	go func() {
		l.Info("starting http server...", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	l.Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	l.Info("shutting down http server...", "address", httpServer.Addr)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Error("http server shutdown failed", "error", err)
	} else {
		l.Info("http server shutdown completed")
	}

	l.Info("application shutdown completed")
}

// newTileCache prefers Redis and falls back to the in-process map when it
// is disabled or unreachable.
func newTileCache(cfg *config.Config, l logger.Logger) (cache.TileCache, func()) {
	if !cfg.Redis.Enabled {
		l.Info("using in-process tile cache")
		return cache.NewMapCache(), func() {}
	}

	rc, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	})
	if err != nil {
		l.Warn("redis unavailable, using in-process tile cache", "addr", cfg.Redis.Addr, "error", err)
		return cache.NewMapCache(), func() {}
	}

	l.Info("using redis tile cache", "addr", cfg.Redis.Addr)
	return rc, func() {
		if err := rc.Close(); err != nil {
			l.Error("failed to close redis", "error", err)
		}
	}
}
