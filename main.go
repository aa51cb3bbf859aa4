package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/auth"
	"github.com/pliu/rentchat/internal/chatlog"
	"github.com/pliu/rentchat/internal/config"
	"github.com/pliu/rentchat/internal/handlers"
	"github.com/pliu/rentchat/internal/logging"
	"github.com/pliu/rentchat/internal/notify"
	"github.com/pliu/rentchat/internal/store/sqlstore"
	"github.com/pliu/rentchat/internal/ws"
)

var (
	addr     = flag.String("addr", "", "http service address (overrides ADDR)")
	dbDriver = flag.String("db-driver", "", "sqlite3 or postgres (overrides DB_DRIVER)")
	dbURL    = flag.String("db", "", "database connection string (overrides DATABASE_URL)")
)

func main() {
	flag.Parse()
	config.LoadDotEnv()
	cfg := config.LoadServer()
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbDriver != "" {
		cfg.DBDriver = *dbDriver
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Server, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.New(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	notifier, closeNotifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	hub := ws.NewHub(notifier, logger.Named("ws"))
	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.Error("websocket hub stopped", zap.Error(err))
		}
	}()

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		logger.Warn("SESSION_SECRET not set, sessions will not survive a restart")
		if secret, err = auth.RandomSecret(); err != nil {
			return err
		}
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Store:       store,
		Log:         chatlog.New(store, notifier, logger.Named("chatlog")),
		Hub:         hub,
		Signer:      auth.NewSigner(secret),
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.Addr),
			zap.String("db_driver", cfg.DBDriver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newNotifier uses Redis pub/sub when REDIS_URL is set so several server
// instances can share watchers.
func newNotifier(ctx context.Context, cfg *config.Server, logger *zap.Logger) (notify.Notifier, func(), error) {
	if cfg.RedisURL == "" {
		return notify.NewLocal(logger.Named("notify")), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("using redis notifications", zap.String("addr", opts.Addr))
	return notify.NewRedis(rdb, logger.Named("notify")), func() { rdb.Close() }, nil
}
