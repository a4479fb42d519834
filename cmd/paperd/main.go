package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paper_go/internal/api"
	"paper_go/internal/app"
	"paper_go/internal/feed"
	"paper_go/internal/infra"

	"github.com/gin-gonic/gin"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: resolved from ./configs or the OS config dir)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("FATAL", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		configPath = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	infra.PrintBanner(os.Stdout, cfg)

	// 1. Pprof server, localhost only
	go func() {
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Warn("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Bootstrap and recovery
	boot := app.NewBootstrap(cfg)
	if err := boot.Initialize(ctx, os.Stderr); err != nil {
		return err
	}
	defer boot.Close()
	logger, seq := boot.Logger, boot.Sequencer

	// The sequencer outlives the signal context so the shutdown checkpoint sees a quiet engine.
	seqCtx, stopSeq := context.WithCancel(context.Background())
	go seq.Run(seqCtx)
	defer func() {
		stopSeq()
		<-seq.Done()
	}()

	// 4. HTTP API (+ /metrics when no dedicated metrics address is set)
	gin.SetMode(gin.ReleaseMode)
	apiOpts := []api.Option{api.WithTimeout(cfg.Server.RequestTimeout)}
	if cfg.Server.OrderRateLimit > 0 {
		apiOpts = append(apiOpts, api.WithOrderRateLimit(infra.NewRateLimiter(cfg.Server.OrderBurst, cfg.Server.OrderRateLimit)))
	}
	router := api.NewRouter(seq, logger, apiOpts...)
	if cfg.Server.MetricsAddr == "" {
		router.GET("/metrics", gin.WrapH(boot.Metrics.Handler()))
	}
	servers := []*http.Server{{Addr: cfg.Server.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}}
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", boot.Metrics.Handler())
		servers = append(servers, &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("HTTP_LISTENING", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	// 5. Tick feed
	if cfg.Feed.WSURL != "" {
		symbols := cfg.Feed.Symbols
		if len(symbols) == 0 {
			symbols = cfg.Engine.Symbols
		}
		tf := feed.NewTickFeed(cfg.Feed.WSURL, symbols, seq, logger)
		worker := feed.Start(ctx, tf, infra.DefaultBackoff)
		defer func() {
			worker.Stop()
			st := worker.Stats()
			logger.Info("TICK_FEED_STOPPED",
				slog.Int64("connects", st.Connects),
				slog.Int64("received", st.Received),
				slog.Int64("rejected", st.Rejected))
		}()
	}

	// 6. Periodic checkpoints
	go seq.RunCheckpoints(ctx, cfg.Checkpoint.Interval, cfg.Checkpoint.Keep)

	logger.Info("PAPERD_READY", slog.String("http", cfg.Server.HTTPAddr))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	logger.Info("SHUTTING_DOWN")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP_SHUTDOWN_FAILED", slog.String("addr", srv.Addr), slog.Any("error", err))
		}
	}

	if cfg.Checkpoint.OnShutdown {
		if cp, err := seq.Checkpoint(shutdownCtx); err != nil {
			logger.Error("SHUTDOWN_CHECKPOINT_FAILED", slog.Any("error", err))
		} else {
			logger.Info("SHUTDOWN_CHECKPOINT", slog.Int64("key", cp.Key()), slog.Uint64("journal_seq", cp.JournalSeq))
		}
	}
	return runErr
}
