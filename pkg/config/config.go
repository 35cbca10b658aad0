// Package config loads the gateway's process-wide configuration: listen
// addresses, the on-disk data root, probe/JWKS/proxy timeouts, worker
// pool sizes and the OIDC issuer list. Values come from a YAML file
// overlaid with environment variables and are loaded once at boot; unlike
// the registry's scope mapping, they are not hot-reloaded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration document.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	InternalAddr    string        `yaml:"internal_addr"`
	DataRoot        string        `yaml:"data_root"`
	ScopesFile      string        `yaml:"scopes_file"`
	Namespace       string        `yaml:"namespace"`
	AdminGroups     []string      `yaml:"admin_groups"`
	Issuers         []string      `yaml:"issuers"`
	OIDCClientID    string        `yaml:"oidc_client_id"`
	ClockSkew       time.Duration `yaml:"clock_skew"`
	JWKSTimeout     time.Duration `yaml:"jwks_timeout"`
	JWKSTTL         time.Duration `yaml:"jwks_ttl"`
	JWKSNegativeTTL time.Duration `yaml:"jwks_negative_ttl"`
	PrincipalTTL    time.Duration `yaml:"principal_cache_ttl"`
	ProbePeriod     time.Duration `yaml:"probe_period"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	ProbeWorkers    int64         `yaml:"probe_workers"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	IndexDebounce   time.Duration `yaml:"index_debounce"`
	IndexTopK       int           `yaml:"index_top_k"`
}

// Default returns the configuration defaults named throughout spec.md
// §4 and §5 before any file/env overlay is applied.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		InternalAddr:    "127.0.0.1:8081",
		DataRoot:        "./data",
		ScopesFile:      "./data/scopes.yml",
		Namespace:       "mcp-gateway",
		ClockSkew:       0,
		JWKSTimeout:     5 * time.Second,
		JWKSTTL:         time.Hour,
		JWKSNegativeTTL: 60 * time.Second,
		PrincipalTTL:    5 * time.Minute,
		ProbePeriod:     30 * time.Second,
		ProbeTimeout:    10 * time.Second,
		ProbeWorkers:    16,
		UpstreamTimeout: 60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		IndexDebounce:   2 * time.Second,
		IndexTopK:       10,
	}
}

// Load reads a YAML configuration file (if path is non-empty and
// exists) over the defaults, then applies environment variable
// overrides, mirroring the "env re-read only at registration time"
// boundary described in spec.md §6 (this is startup config, not that).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MCP_GATEWAY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("MCP_GATEWAY_INTERNAL_ADDR"); v != "" {
		cfg.InternalAddr = v
	}
	if v := os.Getenv("MCP_GATEWAY_DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("MCP_GATEWAY_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("MCP_GATEWAY_PROBE_WORKERS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ProbeWorkers = n
		}
	}
	if v := os.Getenv("MCP_GATEWAY_PROBE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProbePeriod = d
		}
	}
}
