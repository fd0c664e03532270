package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paramgraph/internal/compute"
	"github.com/alfredjeanlab/paramgraph/internal/config"
	"github.com/alfredjeanlab/paramgraph/internal/events"
	"github.com/alfredjeanlab/paramgraph/internal/server"
	"github.com/alfredjeanlab/paramgraph/internal/store"
	"github.com/alfredjeanlab/paramgraph/internal/store/memory"
	"github.com/alfredjeanlab/paramgraph/internal/store/postgres"
	pgsync "github.com/alfredjeanlab/paramgraph/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the paramgraph HTTP and gRPC server",
	GroupID: "system",
	// The server does not need a client connection.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)

		st, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}

		// Create event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (PARAMGRAPH_NATS_URL not set)")
		}

		scheduler := newScheduler(cfg, st, logger)

		opts := []server.Option{
			server.WithLogger(logger),
			server.WithComputeTimeout(cfg.ComputeTimeout),
			server.WithMaxUploadBytes(cfg.MaxUploadBytes),
			server.WithCalculator(newCalculator(cfg, logger)),
		}
		if scheduler != nil {
			opts = append(opts, server.WithChangeHook(scheduler.Trigger))
		}
		graphServer := server.NewGraphServer(st, publisher, opts...)
		grpcServer := server.NewGRPCServer(graphServer, cfg.AuthToken)

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			publisher.Close()
			st.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           graphServer.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		if scheduler != nil {
			scheduler.Start(cmd.Context())
			logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
		}

		logger.Info("paramgraph server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"auth", cfg.AuthToken != "",
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// openStore connects to Postgres when a database URL is configured and
// falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("PARAMGRAPH_DATABASE_URL not set, workbooks are kept in memory only")
		return memory.New(), nil
	}
	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")
	return st, nil
}

// newCalculator prefers the remote calculator when one is configured, then
// the workbook recalculator, then local formula evaluation.
func newCalculator(cfg *config.Config, logger *slog.Logger) compute.Calculator {
	chain := compute.Fallback{compute.NewWorkbook(logger), compute.NewLocal(logger)}
	if cfg.CalculatorURL != "" {
		logger.Info("remote calculator enabled", "url", cfg.CalculatorURL)
		chain = append(compute.Fallback{compute.NewRemote(cfg.CalculatorURL, cfg.CalculatorToken)}, chain...)
	}
	return chain
}

// newScheduler returns nil unless a sync interval and at least one
// destination are configured.
func newScheduler(cfg *config.Config, st store.Store, logger *slog.Logger) *pgsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []pgsync.Destination

	if cfg.SyncS3Bucket != "" {
		d, err := pgsync.NewS3Destination(context.Background(), pgsync.S3Config{
			Bucket:   cfg.SyncS3Bucket,
			Key:      cfg.SyncS3Key,
			Region:   cfg.SyncS3Region,
			Endpoint: cfg.SyncS3Endpoint,
		})
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, d)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, pgsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
	}
	for _, d := range dests {
		logger.Info("sync destination enabled", "destination", d.Name())
	}

	if len(dests) == 0 {
		return nil
	}
	return pgsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
}
