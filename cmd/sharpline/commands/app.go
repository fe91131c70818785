package commands

import (
	"context"
	"fmt"

	"github.com/sharpline/sharpline/pkg/config"
	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/policy"
	"github.com/sharpline/sharpline/pkg/stores"
	"github.com/sharpline/sharpline/pkg/strategies"
	"github.com/sharpline/sharpline/pkg/telemetry"
)

// scriptStrategyID is left out of the table unless the config supplies a script.
const scriptStrategyID = "script"

// appOptions selects optional components for a command.
type appOptions struct {
	// store opens and migrates the SQLite database.
	store bool

	// persist saves completed runs to the store.
	persist bool

	// quiet raises the log level to warn so command output stays readable.
	quiet bool

	// sequential forces one strategy at a time regardless of config.
	sequential bool
}

// app is the wired engine shared by the subcommands.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	store    *stores.SQLiteStore
	policies *policy.Engine
	table    *engine.DescriptorTable
	orch     *engine.Orchestrator
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.storePath != "" {
		cfg.Store.Path = flags.storePath
	}
	return cfg, nil
}

// newApp builds the telemetry bundle, optional store, policy engine and orchestrator.
func newApp(ctx context.Context, flags *globalFlags, opts appOptions) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	telCfg := cfg.TelemetryConfig()
	telCfg.ServiceVersion = flags.version
	switch {
	case flags.verbose:
		telCfg.Logging.Level = "debug"
	case opts.quiet && telCfg.Logging.Level == "info":
		telCfg.Logging.Level = "warn"
	}
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{cfg: cfg, tel: tel, logger: tel.Logger}

	if opts.store {
		if a.store, err = openStore(ctx, cfg.Store.Path); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	var planPolicy engine.PlanPolicy
	if cfg.Policy.Enabled {
		a.policies, err = policy.NewEngine(tel.Logger.Zerolog(), policy.EngineOptions{
			DisableBuiltin: cfg.Policy.DisableBuiltin,
			Events:         tel.Events,
			Metrics:        tel.Metrics,
		})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
		}
		if len(cfg.Policy.Paths) > 0 {
			if err := a.policies.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
				a.Close(ctx)
				return nil, fmt.Errorf("failed to load policies: %w", err)
			}
		}
		planPolicy = a.policies
	}

	descriptors, err := cfg.BuildDescriptors(strategies.DefaultDescriptors())
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if _, ok := cfg.Strategies[scriptStrategyID]; !ok {
		descriptors = withoutDescriptor(descriptors, scriptStrategyID)
	}
	if a.table, err = engine.NewDescriptorTable(descriptors); err != nil {
		a.Close(ctx)
		return nil, err
	}

	reg, err := strategies.NewRegistry()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	factoryOpts := engine.FactoryOptions{Logger: tel.Logger, Metrics: tel.Metrics}
	orchOpts := engine.OrchestratorOptions{
		Sequential: cfg.Engine.Sequential || opts.sequential,
		Preload:    cfg.Engine.Preload,
		Publisher:  tel.Events,
		Logger:     tel.Logger,
		Metrics:    tel.Metrics,
		Tracer:     tel.Tracer,
	}
	if a.store != nil {
		factoryOpts.Repository = a.store
		if opts.persist && cfg.Store.Persist {
			orchOpts.Sink = a.store
		}
	}

	factory := engine.NewFactory(a.table, reg, factoryOpts)
	planner := engine.NewPlanner(a.table, cfg.PlannerConfig(), planPolicy)
	registry := engine.NewRunRegistry(cfg.Engine.HistoryLimit, cfg.Engine.PerformanceWindow)
	a.orch = engine.NewOrchestrator(factory, planner, registry, orchOpts)

	if err := a.orch.Start(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Close shuts the orchestrator down and releases the store and telemetry.
func (a *app) Close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if a.orch != nil {
		if err := a.orch.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Warn("orchestrator shutdown failed")
		}
	}
	if a.store != nil {
		if a.cfg.Store.Retention > 0 {
			if n, err := a.store.PruneOrchestrations(ctx, a.cfg.Store.Retention); err != nil {
				a.logger.WithError(err).Warn("failed to prune run history")
			} else if n > 0 {
				a.logger.WithField("pruned", n).Debug("pruned run history")
			}
		}
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close store")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("telemetry shutdown failed")
	}
}

func withoutDescriptor(descriptors []engine.Descriptor, id string) []engine.Descriptor {
	out := descriptors[:0:0]
	for _, d := range descriptors {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}
