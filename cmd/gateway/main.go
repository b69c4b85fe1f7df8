package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/simfeed/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/simfeed/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/simfeed/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/simfeed/pkg/config"
	"github.com/shubham-shewale/simfeed/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	store := repository.NewRedisStore(rdb)
	defer store.Close()

	wsHub := hub.NewHub(ctx, store, logger, cfg.Symbols())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			logger.Debug("Upgrade failed", zap.Error(err))
			return
		}
		gateway.NewClient(conn, wsHub, logger).Start()
	})
	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Gateway listening", zap.String("addr", cfg.App.Port), zap.Int("symbols", cfg.Feed.SymbolCount))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Metrics.Addr, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Gateway failed", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
