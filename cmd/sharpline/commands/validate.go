package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sharpline/sharpline/pkg/config"
	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/policy"
	"github.com/sharpline/sharpline/pkg/strategies"
)

func newValidateCommand(flags *globalFlags) *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file and policies",
		Long: `Validate configuration and admission policies without running anything.

This command checks:
  - Config syntax and schema (yaml, toml, json or cue)
  - Field constraints and strategy overrides
  - Rego policy files named by the config or --policy`,
		Example: `  # Validate the config given with --config
  sharpline validate --config sharpline.yaml

  # Validate a config plus an extra policy directory
  sharpline validate sharpline.cue --policy ./policies`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			path := flags.configPath
			if len(args) > 0 {
				path = args[0]
			}

			cfg, err := config.Load(path)
			if err != nil {
				var verrs config.ValidationErrors
				if errors.As(err, &verrs) {
					for _, ve := range verrs {
						fmt.Fprintf(w, "  %s:%d:%d: %s\n", ve.File, ve.Line, ve.Column, ve.Message)
					}
				}
				return engine.NewPlanError(engine.ErrCodeValidation, "configuration is invalid", err)
			}

			descriptors, err := cfg.BuildDescriptors(strategies.DefaultDescriptors())
			if err != nil {
				return engine.NewPlanError(engine.ErrCodeValidation, "strategy overrides are invalid", err)
			}
			if _, err := engine.NewDescriptorTable(descriptors); err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintln(w, "Defaults: ok")
			} else {
				fmt.Fprintf(w, "Config %s: ok (%d strategies)\n", path, len(descriptors))
			}

			paths := append(append([]string{}, cfg.Policy.Paths...), policyPaths...)
			if len(paths) == 0 {
				return nil
			}

			loaded, err := policy.NewLoader(zerolog.Nop()).LoadFromPaths(ctx, paths)
			if err != nil {
				return engine.NewPlanError(engine.ErrCodeValidation, "failed to load policies", err)
			}
			pe, err := policy.NewEngine(zerolog.Nop(), policy.EngineOptions{DisableBuiltin: cfg.Policy.DisableBuiltin})
			if err != nil {
				return err
			}
			if err := pe.ReplaceUserPolicies(ctx, loaded); err != nil {
				return engine.NewPlanError(engine.ErrCodeValidation, "policies do not compile", err)
			}
			for _, p := range loaded {
				fmt.Fprintf(w, "Policy %s (%s): ok\n", p.Name, p.Severity)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories")
	return cmd
}
