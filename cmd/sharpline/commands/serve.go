package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sharpline/sharpline/pkg/api"
	redistransport "github.com/sharpline/sharpline/pkg/transports/redis"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(flags *globalFlags) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the orchestration API over HTTP.

The server exposes strategy listing, planning, execution and run history under /api/v1,
health under /health, Prometheus metrics under /metrics and a live event stream over
WebSocket. When configured it also hot-reloads policy files and forwards events to
Redis Streams.`,
		Example: `  # Serve with defaults on :8080
  sharpline serve

  # Serve with a config file on another port
  sharpline serve --config sharpline.yaml --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, flags, appOptions{store: true, persist: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if address != "" {
				a.cfg.Server.Address = address
			}
			checks := map[string]api.HealthChecker{}

			if a.policies != nil && a.cfg.Policy.Watch && len(a.cfg.Policy.Paths) > 0 {
				loader, err := a.policies.Watch(ctx, a.cfg.Policy.Paths)
				if err != nil {
					return fmt.Errorf("failed to watch policies: %w", err)
				}
				defer func() { _ = loader.StopWatching() }()
				a.logger.WithField("paths", a.cfg.Policy.Paths).Info("watching policy files")
			}

			if a.cfg.Redis.Enabled {
				rcfg := redistransport.Config{
					Address:      a.cfg.Redis.Address,
					Password:     a.cfg.Redis.Password,
					DB:           a.cfg.Redis.DB,
					StreamPrefix: a.cfg.Redis.StreamPrefix,
					MaxLen:       a.cfg.Redis.MaxLen,
				}
				client := redistransport.NewClient(rcfg)
				defer client.Close()

				forwarder := redistransport.NewStreamsForwarder(client, rcfg, a.logger)
				if err := forwarder.Start(a.tel.Events); err != nil {
					return err
				}
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
					defer cancel()
					_ = forwarder.Stop(stopCtx)
				}()
				checks["redis"] = forwarder.HealthCheck
			}

			if a.cfg.Telemetry.MetricsEnabled && a.cfg.Telemetry.MetricsAddress != a.cfg.Server.Address {
				if err := a.tel.StartMetricsServer(); err != nil {
					return err
				}
			}

			server, err := api.NewServer(api.Config{
				Address:      a.cfg.Server.Address,
				ReadTimeout:  seconds(a.cfg.Server.ReadTimeoutSeconds),
				WriteTimeout: seconds(a.cfg.Server.WriteTimeoutSeconds),
				MaxBatchSize: a.cfg.Server.MaxBatchSize,
				Orchestrator: a.orch,
				Store:        a.store,
				Events:       a.tel.Events,
				Metrics:      a.tel.Metrics,
				HealthChecks: checks,
				Logger:       a.logger,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&address, "addr", "", "listen address (overrides config)")
	return cmd
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
