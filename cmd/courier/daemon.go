package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/courier/internal/bus"
	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/metrics"
	"github.com/oriys/courier/internal/observability"
	"github.com/oriys/courier/internal/queue"
	"github.com/oriys/courier/internal/store"
)

func daemonCmd() *cobra.Command {
	var (
		logLevel      string
		listenAddr    string
		watchInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the courier operations daemon",
		Long:  "Runs the batch watcher and serves /metrics and /health. Workers and process routers are embedded in application binaries via the library API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.HTTPAddr = listenAddr
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Exporter:    cfg.Tracing.Exporter,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Metrics.Namespace, nil)
			}

			st, err := store.New(context.Background(), cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			defer st.Close()

			notifier := buildNotifier(cfg, st)
			defer notifier.Close()

			b := bus.New(st, notifier, cfg.Bus, cfg.Batch)

			watcher := bus.NewBatchWatcher(b, watchInterval)
			watcher.Start()
			defer watcher.Stop()

			var httpServer *http.Server
			if cfg.Daemon.HTTPAddr != "" {
				mux := http.NewServeMux()
				if h := metrics.Handler(); h != nil {
					mux.Handle("/metrics", h)
				}
				mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
					ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
					defer cancel()
					if err := st.Pool().Ping(ctx); err != nil {
						w.WriteHeader(http.StatusServiceUnavailable)
						fmt.Fprintf(w, `{"status":"degraded","error":%q}`, err.Error())
						return
					}
					w.WriteHeader(http.StatusOK)
					w.Write([]byte(`{"status":"ok","service":"courier"}`))
				})
				httpServer = &http.Server{
					Addr:    cfg.Daemon.HTTPAddr,
					Handler: mux,
				}
				go func() {
					logging.Op().Info("HTTP endpoint started", "addr", cfg.Daemon.HTTPAddr)
					if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("HTTP server error", "error", err)
					}
				}()
			}

			logging.Op().Info("courier daemon started")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			if httpServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(ctx)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&listenAddr, "listen", ":9040", "HTTP listen address for /metrics and /health")
	cmd.Flags().DurationVar(&watchInterval, "watch-interval", 5*time.Second, "Batch watcher refresh interval")

	return cmd
}

// buildNotifier picks the wakeup transport: Redis pub/sub when configured
// (multi-node), otherwise LISTEN/NOTIFY on the same database.
func buildNotifier(cfg *config.Config, st *store.Store) queue.Notifier {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logging.Op().Info("using redis notifier", "addr", cfg.Redis.Addr)
		return queue.NewRedisNotifier(client)
	}
	return queue.NewPGNotifier(st.Pool())
}
