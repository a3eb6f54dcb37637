package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geminicodes/MapMyVisitors-Cursor/archive"
	"github.com/geminicodes/MapMyVisitors-Cursor/config"
	"github.com/geminicodes/MapMyVisitors-Cursor/database"
	"github.com/geminicodes/MapMyVisitors-Cursor/geoip"
	"github.com/geminicodes/MapMyVisitors-Cursor/handlers"
	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/metrics"
	"github.com/geminicodes/MapMyVisitors-Cursor/middleware"
	"github.com/geminicodes/MapMyVisitors-Cursor/ratelimit"
	"github.com/geminicodes/MapMyVisitors-Cursor/store"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register metrics")
	}

	// --- Primary database (accounts, visitors, monthly counters) ---
	dbClient, err := openDatabase(cfg)
	if err != nil {
		logging.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("Failed to initialize database")
	}
	defer dbClient.Close()

	if cfg.AutoMigrate {
		if err := database.Migrate(dbClient); err != nil {
			logging.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	accountStore := store.NewAccountStore(dbClient)
	visitorStore := store.NewVisitorStore(dbClient)

	resolver, err := geoip.NewResolver(geoip.Config{
		BaseURL:  cfg.GeoIPBaseURL,
		Timeout:  cfg.GeoIPTimeout,
		CacheTTL: cfg.GeoIPCacheTTL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize GeoIP resolver")
	}
	defer resolver.Close()

	// --- Optional ClickHouse archive ---
	var (
		publisher archive.Publisher = archive.Noop{}
		analytics *handlers.AnalyticsHandlers
	)
	if cfg.ArchiveEnabled() {
		chClient, err := database.NewClickHouseDB(database.ClickHouseConfig{
			Host:       cfg.ClickHouseHost,
			NativePort: cfg.ClickHouseNativePort,
			DBName:     cfg.ClickHouseDBName,
			Username:   cfg.ClickHouseUsername,
			Password:   cfg.ClickHousePassword,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize ClickHouse archive")
		}
		defer chClient.Close()

		analyticsStore := store.NewAnalyticsStore(chClient)
		archiver := archive.NewArchiver(analyticsStore, archive.Config{})
		defer archiver.Close()

		publisher = archiver
		analytics = handlers.NewAnalyticsHandlers(analyticsStore)
	} else {
		logging.Info().Msg("ClickHouse archive disabled")
	}

	routes := handlers.Routes{
		Track: handlers.NewTrackHandlers(accountStore, visitorStore, resolver,
			ratelimit.ForPolicy("track"), publisher, int64(cfg.MonthlyPageviewLimit)),
		Visitors: handlers.NewVisitorHandlers(accountStore, visitorStore,
			ratelimit.ForPolicy("visitors"), cfg.Location()),
		Analytics: analytics,
		DB:        dbClient,
	}

	if cfg.AdminEnabled() {
		tokens, err := utils.NewTokenIssuer(cfg.JWTSecretKey, time.Hour)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize token issuer")
		}
		routes.Tokens = tokens
		routes.Auth = handlers.NewAuthHandlers(cfg.AdminKeyHash, tokens,
			ratelimit.ForPolicy("admin-login"), cfg.Env == "production")
		routes.Admin = handlers.NewAdminHandlers(accountStore, visitorStore, cfg.PublicURL)
	} else {
		logging.Info().Msg("Admin API disabled: ADMIN_KEY_HASH not set")
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logging.Fatal().Err(err).Msg("Invalid TRUSTED_PROXIES")
	}
	r.Use(middleware.Recovery(), middleware.RequestID(), middleware.RequestLogger(), middleware.Metrics())

	routes.Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.WidgetAssetsDir != "" {
		r.Static("/widget", cfg.WidgetAssetsDir)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("MapMyVisitors API starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("API server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("Server forced to shutdown")
	}

	logging.Info().Msg("Server exiting")
}

func openDatabase(cfg *config.Config) (*database.DBClient, error) {
	if cfg.DatabaseDriver == "sqlite" {
		return database.NewSQLiteDB(cfg.SQLitePath)
	}
	return database.NewPostgresDB(cfg.DatabaseURL)
}
