package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dudedude/pairchat/internal/admin"
	"github.com/dudedude/pairchat/internal/config"
	"github.com/dudedude/pairchat/internal/geo"
	"github.com/dudedude/pairchat/internal/logging"
	"github.com/dudedude/pairchat/internal/matching"
	"github.com/dudedude/pairchat/internal/messaging"
	"github.com/dudedude/pairchat/internal/metrics"
	"github.com/dudedude/pairchat/internal/ratelimit"
	"github.com/dudedude/pairchat/internal/report"
	"github.com/dudedude/pairchat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	var closers []io.Closer

	// --- Geo ---
	var provider geo.Provider = geo.UnknownProvider{}
	if cfg.GeoIPDB != "" {
		mm, err := geo.OpenMaxMind(cfg.GeoIPDB, logger.Named("geo"))
		if err != nil {
			return err
		}
		closers = append(closers, mm)
		provider = mm
	}

	// --- Redis ---
	var limiter ratelimit.Checker = ratelimit.Noop{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, rate limits fail open until it recovers",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		closers = append(closers, client)
		limiter = ratelimit.NewLimiter(client, logger)
	}

	// --- Reports ---
	sinks := report.Fanout{report.NewLogSink(logger.Named("report"))}
	if cfg.DatabaseURL != "" {
		store, err := report.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		closers = append(closers, store)
		sinks = append(sinks, store, report.NewWatch(store,
			report.DefaultWatchThreshold, report.DefaultWatchWindow, logger.Named("report")))
	}
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		nc, err := messaging.New(natsConfig, logger)
		if err != nil {
			return err
		}
		closers = append(closers, nc)
		sinks = append(sinks, report.NewPublisher(nc))
	}

	// --- Server and engine ---
	server := ws.NewServer(ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		OutboxSize:     cfg.OutboxSize,
		MaxMessageSize: cfg.MaxMessageSize,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
	}, limiter, logger)

	engine := matching.NewEngine(server, provider, logger.Named("matching"))
	server.SetHandler(ws.NewDispatcher(engine, sinks, limiter, logger))

	prometheus.MustRegister(metrics.NewSessionCollector(func() metrics.Snapshot {
		c := engine.Counts()
		return metrics.Snapshot{
			Sessions: c.Sessions,
			Queued:   c.Queued,
			Waiting:  c.Waiting,
			Chatting: c.Chatting,
			Idle:     c.Idle,
		}
	}))

	adm := admin.New(engine, cfg.AdminKey, logger)
	server.Handle("/api/admin/stats", http.HandlerFunc(adm.ServeStats))
	server.Handle("/api/health", http.HandlerFunc(adm.ServeHealth))
	server.Handle("/metrics", metrics.Handler())

	if cfg.InsecureAdminKey() {
		logger.Warn("ADMIN_KEY is the built-in default; set it before exposing the admin endpoint")
	}

	logger.Info("pairchat starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Int("worker_pool", cfg.WorkerPoolSize),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Bool("geoip", cfg.GeoIPDB != ""),
		zap.Bool("rate_limit", cfg.RedisAddr != ""),
		zap.Bool("report_store", cfg.DatabaseURL != ""),
		zap.Bool("report_publish", cfg.NATSURL != ""),
	)

	// Graceful shutdown.
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var err error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case err = <-errCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = multierr.Append(err, server.Shutdown(ctx))
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i].Close())
	}
	return err
}
