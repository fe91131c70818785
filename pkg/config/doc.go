// Package config loads sharpline configuration.
//
// A configuration file may be YAML, TOML, JSON or CUE; the format is picked from the file
// extension. Values are decoded over DefaultConfig, then SHARPLINE_* environment variables
// are applied, then struct constraints are checked with go-playground/validator.
//
// CUE files are unified with the built-in #Config definition before decoding, so type and
// range errors are reported with file positions:
//
//	engine: {
//		max_concurrent:  8
//		timeout_seconds: 10
//	}
//	strategies: {
//		steam_move: config: min_books: 4
//		closing_line_value: disabled: true
//	}
//
// Strategy overrides are applied once, when the descriptor table is built:
//
//	cfg, err := config.Load("sharpline.cue")
//	if err != nil {
//	    return err
//	}
//	descs, err := cfg.BuildDescriptors(strategies.DefaultDescriptors())
//	if err != nil {
//	    return err
//	}
//	table, err := engine.NewDescriptorTable(descs)
package config
