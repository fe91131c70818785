package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sharpline/sharpline/pkg/engine"
)

// Format is a configuration file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// Load reads path over the defaults, applies SHARPLINE_* environment overrides and validates
// the result. An empty path loads the defaults with environment overrides only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		format, err := FormatFromPath(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if cfg, err = Parse(format, path, data); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in the given format over DefaultConfig. Name is used in error messages.
func Parse(format Format, name string, data []byte) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(cfg); errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatTOML:
		var md toml.MetaData
		md, err = toml.Decode(string(data), cfg)
		if undecoded := md.Undecoded(); err == nil && len(undecoded) > 0 {
			err = fmt.Errorf("unknown keys %v", undecoded)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	case FormatCUE:
		return NewCUEParser().ParseConfig(name, data)
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s config %s: %w", format, name, err)
	}
	return cfg, nil
}

// ApplyEnv overlays SHARPLINE_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and strategy override priorities.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// BuildDescriptors applies the strategy overrides to defaults. Disabled strategies are left
// out. An override naming a strategy that is not in defaults is an error.
func (c *Config) BuildDescriptors(defaults []engine.Descriptor) ([]engine.Descriptor, error) {
	known := make(map[string]bool, len(defaults))
	for _, d := range defaults {
		known[d.ID] = true
	}
	var unknown []string
	for id := range c.Strategies {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("config overrides unknown strategies: %s", strings.Join(unknown, ", "))
	}

	out := make([]engine.Descriptor, 0, len(defaults))
	for _, d := range defaults {
		o, ok := c.Strategies[d.ID]
		if !ok {
			out = append(out, d)
			continue
		}
		if o.Disabled {
			continue
		}
		if o.Priority != "" {
			p, err := engine.ParsePriority(o.Priority)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: %w", d.ID, err)
			}
			d.Priority = p
		}
		if len(o.Config) > 0 {
			merged := make(map[string]interface{}, len(d.Config)+len(o.Config))
			for k, v := range d.Config {
				merged[k] = v
			}
			for k, v := range o.Config {
				merged[k] = v
			}
			d.Config = merged
		}
		out = append(out, d)
	}
	return out, nil
}
