package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

// maxConfigSize caps a single config layer. Anything larger is a mistake.
const maxConfigSize = 1 << 20

const envPrefix = "DETERNA"

// Loader assembles a Config from the shipped defaults, any number of JSON
// layers merged in order, and environment overrides applied last.
type Loader struct {
	layers     []string
	validation bool
}

// NewLoader returns an empty loader. With no layers it yields Defaults()
// plus environment overrides.
func NewLoader() *Loader {
	return &Loader{}
}

// AddLayer appends a JSON file; later layers win over earlier ones.
func (l *Loader) AddLayer(path string) *Loader {
	l.layers = append(l.layers, path)
	return l
}

// EnableValidation makes Load run Config.Validate after merging.
func (l *Loader) EnableValidation() *Loader {
	l.validation = true
	return l
}

// Load merges defaults, layers, and environment overrides into a Config.
func (l *Loader) Load() (*Config, error) {
	merged, err := toRawMap(Defaults())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		layer, err := loadRawJSON(path)
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", fmt.Sprintf("load layer %s", path))
		}
		merged = deepMerge(merged, layer)
	}

	cfg, err := fromRawMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged configuration")
	}

	applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func toRawMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func fromRawMap(raw map[string]any) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadRawJSON(path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", errors.ErrInvalidConfig, path, maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return raw, nil
}

// deepMerge overlays src onto dst. Nested objects merge recursively; any
// other value in src replaces the dst value outright.
func deepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = deepMerge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}

// applyEnvOverrides lets deployment environments inject secrets and
// addresses without touching config files.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "_BOT_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
	if v := os.Getenv(envPrefix + "_BOT_GUILD_ID"); v != "" {
		cfg.Bot.GuildID = v
	}
	if v := os.Getenv(envPrefix + "_BOT_APP_ID"); v != "" {
		cfg.Bot.AppID = v
	}
	if v := os.Getenv(envPrefix + "_OPS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Manager.OpsPort = port
		}
	}
}
