package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/manpreetbhatti/easel/internal/api"
	"github.com/manpreetbhatti/easel/internal/blobstore"
	"github.com/manpreetbhatti/easel/internal/config"
	"github.com/manpreetbhatti/easel/internal/db"
	"github.com/manpreetbhatti/easel/internal/eviction"
	"github.com/manpreetbhatti/easel/internal/metrics"
	"github.com/manpreetbhatti/easel/internal/ratelimit"
	"github.com/manpreetbhatti/easel/internal/room"
	"github.com/manpreetbhatti/easel/internal/ws"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides config and PORT)")

	return cmd
}

// archive bundles the configured room.Archive with the SQLite handle the API
// reads stats from, if any.
type archive struct {
	room.Archive
	database *db.Database
}

func (a *archive) Close() error {
	if a.database != nil {
		return a.database.Close()
	}
	return nil
}

func openArchive(cfg config.ArchiveConfig, logger *slog.Logger) (*archive, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		database, err := db.New(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite archive: %w", err)
		}
		return &archive{Archive: database, database: database}, nil
	case config.DriverS3:
		store := blobstore.New(blobstore.Options{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, logger)
		return &archive{Archive: store}, nil
	default:
		return &archive{}, nil
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace, Registry: promRegistry})

	store, err := openArchive(cfg.Archive, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := room.NewRegistry(room.Config{
		MaxRooms:       cfg.Rooms.MaxRooms,
		IdleTTL:        cfg.Rooms.IdleTTL,
		HistoryLimit:   cfg.Rooms.HistoryLimit,
		PageWindow:     cfg.Rooms.PageWindow,
		ArchiveTimeout: cfg.Archive.Timeout,
	}, store.Archive, m, logger)

	hub := ws.NewHub(registry, m, logger)
	hub.SetClientConfig(ws.ClientConfig{
		MaxMessageSize:    cfg.Limits.MaxMessageSize,
		SendBuffer:        cfg.Limits.SendBuffer,
		MessagesPerSecond: cfg.Limits.MessagesPerSecond,
		MessageBurst:      cfg.Limits.Burst,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	sweeper := eviction.New(registry, eviction.Config{Interval: cfg.Rooms.SweepInterval}, logger)
	sweeper.Start(ctx)

	limiters := ratelimit.NewClientLimiters(cfg.HTTP.RequestsPerSecond, cfg.HTTP.Burst)
	defer limiters.Stop()

	apiHandler := api.New(hub, registry, store.database, logger)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiHandler.Routes(limiters, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("easel server starting",
		"addr", cfg.Addr(),
		"version", version,
		"archive", cfg.Archive.Driver,
		"max_rooms", cfg.Rooms.MaxRooms,
		"idle_ttl", cfg.Rooms.IdleTTL)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	stopHub()
	sweeper.Stop()

	if err := registry.Flush(shutdownCtx); err != nil {
		logger.Error("failed to archive rooms on shutdown", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("listen: %w", serveErr)
	}
	return nil
}
