package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/config"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/metrics"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/server"
)

func newServerCmd(root *rootOptions) *cobra.Command {
	var (
		addr          string
		recordFile    string
		recordHeaders []string
	)
	storage := defaultStorageOptions()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the Gatekeep HTTP server",
		Long: `Starts an HTTP server that guards demo operations with the configured
policies and exposes the limiter for inspection.

Endpoints:
  GET  /                       Server info and policy names
  GET  /health                 Store health check
  GET  /metrics                Prometheus metrics
  GET  /api/policies           Configured policies
  GET  /api/check/:policy      Check without recording
  POST /api/attempt/:policy    Guarded attempt (?fail=true simulates a failed operation)
  POST /demo/:policy           Attempt through the HTTP middleware
  WS   /ws                     Live decision feed`,
		Example: `  gatekeep server
  gatekeep server --config gatekeep.yaml --addr :9090
  gatekeep server --storage redis --redis-host localhost:6379
  gatekeep server --record traffic.json`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			storage.applyConfigIfUnset(cmd, &cfg.Storage)
			if err := storage.normalize(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("record-headers") {
				recordHeaders = cfg.RecordHeaders()
			}

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			shutdownTracing, err := setupTracing(root.traceStdout, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, shutdownTracing(context.Background())) }()

			policies, err := cfg.PolicySet()
			if err != nil {
				return err
			}

			st, err := storage.open(logger, nil)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, st.Close()) }()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			engine := limiter.NewEngine(st,
				limiter.WithLogger(logger),
				limiter.WithMetrics(metrics.New(reg)),
				limiter.WithFingerprinter(newFingerprinter(cfg.Fingerprint)),
			)

			var rec *recorder.Recorder
			if recordFile != "" {
				rec = recorder.New(nil)
			}

			srv := server.New(server.Options{
				Addr:          addr,
				Engine:        engine,
				Policies:      policies,
				Logger:        logger,
				Gatherer:      reg,
				Recorder:      rec,
				RecordHeaders: recordHeaders,
			})

			logger.Info("gatekeep starting",
				zap.String("addr", addr),
				zap.String("storage", storage.backend),
				zap.Strings("policies", policies.Names()),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			err = g.Wait()

			if rec != nil {
				logger.Info("exporting recorded traffic", zap.Int("records", rec.Len()), zap.String("file", recordFile))
				err = multierr.Append(err, rec.ExportFile(recordFile))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.Default().Server.Addr, "address to listen on")
	cmd.Flags().StringVar(&recordFile, "record", "", "record attempts to a JSON file (exported on shutdown)")
	cmd.Flags().StringSliceVar(&recordHeaders, "record-headers", nil, "request headers kept in recorded traffic (default: every header the fingerprint and policies key on)")
	storage.addFlags(cmd)

	return cmd
}

func newFingerprinter(cfg config.FingerprintConfig) fingerprint.Fingerprinter {
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = fingerprint.DefaultHeaders
	}
	return &fingerprint.HeaderFingerprinter{
		TrustForwarded: cfg.TrustForwardedFor,
		Headers:        append([]string(nil), headers...),
	}
}
