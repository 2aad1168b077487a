package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/cafestream/internal/archive"
	"github.com/alfredjeanlab/cafestream/internal/auth"
	"github.com/alfredjeanlab/cafestream/internal/config"
	"github.com/alfredjeanlab/cafestream/internal/dispatch"
	"github.com/alfredjeanlab/cafestream/internal/events"
	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/orders"
	"github.com/alfredjeanlab/cafestream/internal/server"
	"github.com/alfredjeanlab/cafestream/internal/store"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the cafestream HTTP server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't build an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)
		seedMenu, _ := cmd.Flags().GetBool("seed-menu")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		log, err := openEventLog(cfg, st)
		if err != nil {
			st.Close()
			return err
		}
		logger.Info("event log opened", "backend", cfg.LogBackend)

		if seedMenu {
			if err := seedProducts(cmd.Context(), st); err != nil {
				logger.Error("failed to seed menu", "err", err)
			}
		}

		publisher := events.NewLogPublisher(log, logger)
		svc := orders.New(st, publisher, logger)

		resolvers := auth.ChainResolver{}
		if cfg.AuthToken != "" {
			resolvers = append(resolvers, &auth.StaticResolver{Token: cfg.AuthToken})
			logger.Info("service token enabled")
		}
		resolvers = append(resolvers, &auth.StoreResolver{Store: st})

		cafeServer := server.NewCafeServer(svc, log, resolvers, server.Config{
			Stream: dispatch.Config{
				PollInterval:      cfg.PollInterval,
				KeepaliveInterval: cfg.KeepaliveInterval,
				BlockTimeout:      cfg.BlockTimeout,
				BatchSize:         cfg.BatchSize,
			},
			Retry:        cfg.StreamRetry,
			WriteTimeout: cfg.WriteTimeout,
		}, logger)

		// No server WriteTimeout: streams set a deadline per frame instead.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           cafeServer.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start the archiver if a schedule and any destinations are configured.
		var archiver *archive.Archiver
		if cfg.ArchiveSchedule != "" {
			var dests []archive.Destination
			if cfg.ArchiveS3Bucket != "" {
				s3Dest, err := archive.NewS3Destination(context.Background(), cfg.ArchiveS3Bucket, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
				if err != nil {
					logger.Error("failed to create S3 archive destination", "err", err)
				} else {
					dests = append(dests, s3Dest)
					logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket)
				}
			}
			if cfg.ArchiveDir != "" {
				dests = append(dests, &archive.FileDestination{Dir: cfg.ArchiveDir})
				logger.Info("archive directory destination enabled", "dir", cfg.ArchiveDir)
			}
			if len(dests) > 0 {
				archiver = archive.New(log, events.Topics, dests, cfg.ArchivePrefix, logger)
				if err := archiver.Start(context.Background(), cfg.ArchiveSchedule); err != nil {
					logger.Error("archive scheduler not started", "err", err)
					archiver = nil
				} else {
					logger.Info("archive scheduler started", "schedule", cfg.ArchiveSchedule)
				}
			}
		}

		logger.Info("cafestream server started", "http_addr", cfg.HTTPAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if archiver != nil {
			archiver.Stop()
			logger.Info("archive scheduler stopped")
		}

		// Streams never finish on their own, so end them before Shutdown
		// waits for active requests.
		cafeServer.CloseStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := log.Close(); err != nil {
			logger.Error("error closing event log", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// seedProducts adds a small demo menu, leaving existing products alone.
func seedProducts(ctx context.Context, st store.Store) error {
	for _, p := range []*model.Product{
		{ID: "espresso", Name: "Espresso", PriceCents: 300, StockQuantity: 200, LowStockThreshold: 20},
		{ID: "latte", Name: "Latte", PriceCents: 450, StockQuantity: 120, LowStockThreshold: 15},
		{ID: "oat-milk", Name: "Oat milk", PriceCents: 60, StockQuantity: 30, LowStockThreshold: 10},
		{ID: "croissant", Name: "Croissant", PriceCents: 325, StockQuantity: 24, LowStockThreshold: 6},
	} {
		if _, err := st.GetProduct(ctx, p.ID); err == nil {
			continue
		}
		if err := st.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	serveCmd.Flags().Bool("seed-menu", false, "add a demo menu if products are missing")
}
