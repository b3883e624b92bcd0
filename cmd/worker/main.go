package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smis/internal/app"
	"smis/internal/config"
	"smis/internal/logging"
	"smis/internal/queue"
	"smis/internal/repository"
)

// Worker consumes sync requests and runs a periodic full sync.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogFile)
	slog.SetDefault(logger)
	if err := cfg.ValidateDevice(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger, app.Options{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	if a.REST == nil && a.Docs == nil {
		logger.Warn("no remote backend configured; sync requests will fail")
	}
	if a.Redis != nil && !a.Redis.Healthy(ctx) {
		logger.Warn("redis unreachable at startup; queue and document sync will retry", slog.String("addr", cfg.RedisAddr))
	}
	if a.Session() == nil {
		logger.Warn("no saved login; run `smis login` so remote calls are authorised")
	}

	go serveMetrics(ctx, cfg.MetricsAddr, logger)

	var requests <-chan queue.Request
	if a.Queue != nil {
		requests, err = a.Queue.Consume(ctx)
		if err != nil {
			logger.Error("queue consume init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Warn("no queue configured; running periodic sync only")
	}

	run(ctx, a.Repo, requests, cfg.SyncInterval, cfg.SyncRetries, logger)
	logger.Info("worker stopped")
}

// syncer is the slice of the repository the worker drives.
type syncer interface {
	SyncAll(ctx context.Context, maxRetries int) repository.Result[bool]
	ForceSyncFromAPI(ctx context.Context) repository.Result[bool]
	ForceSyncFromCloud(ctx context.Context) repository.Result[bool]
}

// run processes requests one at a time until ctx is done. A non-positive
// interval disables the periodic sync.
func run(ctx context.Context, repo syncer, requests <-chan queue.Request, interval time.Duration, retries int, logger *slog.Logger) {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	logger.Info("worker started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			report(logger, "periodic sync", repo.SyncAll(ctx, retries))
		case req, ok := <-requests:
			if !ok {
				requests = nil
				if tick == nil {
					return
				}
				continue
			}
			handle(ctx, repo, req, retries, logger)
		}
	}
}

func handle(ctx context.Context, repo syncer, req queue.Request, retries int, logger *slog.Logger) {
	logger.Info("processing request", slog.String("kind", req.Kind), slog.String("requested_by", req.RequestedBy))
	switch req.Kind {
	case queue.KindSync:
		if req.MaxRetries > 0 {
			retries = req.MaxRetries
		}
		report(logger, req.Kind, repo.SyncAll(ctx, retries))
	case queue.KindPullAPI:
		report(logger, req.Kind, repo.ForceSyncFromAPI(ctx))
	case queue.KindForceCloud:
		report(logger, req.Kind, repo.ForceSyncFromCloud(ctx))
	default:
		logger.Warn("skipping unknown request", slog.String("kind", req.Kind))
	}
}

func report(logger *slog.Logger, what string, res repository.Result[bool]) {
	if err := res.Err(); err != nil {
		logger.Warn(what+" failed", slog.String("error", err.Error()))
		return
	}
	logger.Info(what + " finished")
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server failed", slog.String("error", err.Error()))
	}
}
