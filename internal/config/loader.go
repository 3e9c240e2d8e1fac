package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides.
const envPrefix = "REPOINDEX_"

// Load reads configuration with the following precedence (highest first):
//
//  1. Environment variables (REPOINDEX_QDRANT_HOST, REPOINDEX_CHUNK_SIZE, ...)
//  2. YAML config file, if configPath is non-empty and the file exists
//  3. Defaults
//
// Environment variables map section-first: REPOINDEX_QDRANT_HOST becomes
// qdrant.host, REPOINDEX_CLASSIFY_SAMPLE_SIZE becomes classify.sample_size.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// REPOINDEX_QDRANT_PROVISION_TIMEOUT -> qdrant.provision_timeout:
		// split on the first underscore after the prefix; the section
		// never contains one, field names keep theirs.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
