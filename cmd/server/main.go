// Command chapel-server starts the church events HTTP server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/openchapel/events/internal/auth"
	"github.com/openchapel/events/internal/cache"
	"github.com/openchapel/events/internal/config"
	"github.com/openchapel/events/internal/limiter"
	"github.com/openchapel/events/internal/migrate"
	"github.com/openchapel/events/internal/remote"
	"github.com/openchapel/events/internal/remote/memstore"
	pgstore "github.com/openchapel/events/internal/remote/postgres"
	"github.com/openchapel/events/internal/repository"
	httpserver "github.com/openchapel/events/internal/server/http"
	"github.com/openchapel/events/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations when needed, and starts the
// HTTP server with the background reconcile schedule.
func main() {
	// Flags override the config file field-by-field.
	cfgPath := flag.String("config", "", "path to YAML config")
	addr := flag.String("addr", "", "listen address")
	dsn := flag.String("dsn", "", "PostgreSQL DSN")
	storeKind := flag.String("store", "", `backing store: "memory" or "postgres"`)
	jwtKey := flag.String("jwt-key", "", "HS256 signing key")
	mirrorDir := flag.String("mirror-dir", "", "directory for the durable cache mirror")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
	)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if *storeKind != "" {
		cfg.Store = *storeKind
	}
	if *jwtKey != "" {
		cfg.JWTKey = *jwtKey
	}
	if *mirrorDir != "" {
		cfg.MirrorDir = *mirrorDir
	}
	if err := cfg.Normalize(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.JWTKey == "" {
		logger.Fatal("missing jwt signing key (--jwt-key or jwt_key in config)")
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("timezone", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store remote.Store
		lim   limiter.Limiter
	)
	switch cfg.Store {
	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := pgstore.New(ctx, cfg.DSN)
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		defer db.Close()
		st := pgstore.NewStore(db, logger)
		defer st.Close()
		store = st
		lim = limiter.NewPGWithQuerier(db.Pool, 15*time.Minute, 5, 15*time.Minute)
	default:
		store = memstore.New()
		lim = limiter.NewMemory(15*time.Minute, 5, 15*time.Minute)
	}

	var mirror cache.Mirror
	if cfg.MirrorDir != "" {
		fm, err := cache.NewFileMirror(cfg.MirrorDir)
		if err != nil {
			logger.Fatal("cache mirror", zap.Error(err))
		}
		mirror = fm
	} else {
		mirror = cache.NewMapMirror()
	}
	respCache := cache.New(mirror, logger)

	eventRepo := repository.NewEventRepo(store, logger)
	userRepo := repository.NewUserRepo(store)

	rec := service.NewReconciler(eventRepo, logger)
	rec.SetClock(func() time.Time { return time.Now().In(loc) })

	feed := service.NewFeed(eventRepo, rec, respCache, logger, func(err error) {
		logger.Error("event subscription", zap.Error(err))
	})
	feed.Start(ctx)
	defer feed.Stop()

	userEvents := service.NewUserEvents(userRepo, eventRepo, respCache, logger)
	authSvc := auth.New(userRepo, []byte(cfg.JWTKey), cfg.TokenTTL, lim, logger)

	// Periodic repair pass; the live subscription covers everything else.
	cr := cron.New()
	if _, err := cr.AddFunc(cfg.ReconcileCron, func() {
		if err := feed.Refresh(context.Background()); err != nil {
			logger.Error("scheduled refresh", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("reconcile cron", zap.String("spec", cfg.ReconcileCron), zap.Error(err))
	}
	cr.Start()
	defer cr.Stop()

	srv := httpserver.New(feed, userEvents, authSvc, loc, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
