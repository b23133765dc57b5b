package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration for the quoting engine.
type AppConfig struct {
	Cluster     string                 `yaml:"cluster"`
	ClusterURL  string                 `yaml:"clusterURL"`
	KeypairPath string                 `yaml:"keypairPath"`
	Account     string                 `yaml:"account"`
	IntervalMs  int                    `yaml:"interval_ms"`
	MetricsAddr string                 `yaml:"metricsAddr"`
	FeedMode    string                 `yaml:"feedMode"` // rest or stream
	Log         LogConfig              `yaml:"log"`
	Engine      EngineConfig           `yaml:"engine"`
	Assets      map[string]AssetConfig `yaml:"assets"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// EngineConfig collects loop-level tunables shared by all instruments.
type EngineConfig struct {
	// BookStaleSecs is the gap after which the on-ledger book is considered
	// fresher than the last order update, selecting the live-book requote
	// comparison instead of the sent-price fallback.
	BookStaleSecs float64 `yaml:"bookStaleSecs"`
	// SetupMaxRetries caps sequence-account initialization attempts.
	// Zero means retry until it succeeds.
	SetupMaxRetries uint64 `yaml:"setupMaxRetries"`
	// ShutdownTimeoutMs bounds the best-effort cancel-all issued on exit.
	ShutdownTimeoutMs int `yaml:"shutdownTimeoutMs"`
}

type AssetConfig struct {
	Perp PerpParams `yaml:"perp"`
}

// PerpParams is the per-instrument quoting parameter set.
type PerpParams struct {
	Equity        float64 `yaml:"equity"`        // quote notional deployed per side
	LeanCoeff     float64 `yaml:"leanCoeff"`     // inventory lean aggressiveness
	BidCharge     float64 `yaml:"bidCharge"`     // base bid markdown, fraction of fair value
	AskCharge     float64 `yaml:"askCharge"`     // base ask markup
	RequoteThresh float64 `yaml:"requoteThresh"` // relative price deviation triggering a requote
	TIFSecs       float64 `yaml:"tif"`           // resting-order lifetime in seconds; 0 disables the rule
	Charge        float64 `yaml:"charge"`        // flattening taker charge
	ReferenceCode string  `yaml:"referenceVenueCode"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides cluster/credential fields
// from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("CLUSTER_OVERRIDE"); v != "" {
		cfg.Cluster = v
	}
	if v := firstEnv("CLUSTER_URL_OVERRIDE", "CLUSTER_URL"); v != "" {
		cfg.ClusterURL = v
	}
	if v := firstEnv("SIGNER_KEYPAIR_OVERRIDE", "SIGNER_KEYPAIR"); v != "" {
		cfg.KeypairPath = v
	}
	if v := os.Getenv("LEDGER_ACCOUNT"); v != "" {
		cfg.Account = v
	}
	return cfg, Validate(cfg)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Cluster == "" {
		cfg.Cluster = "mainnet"
	}
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = 1000
	}
	if cfg.Engine.BookStaleSecs <= 0 {
		cfg.Engine.BookStaleSecs = 3
	}
	if cfg.Engine.ShutdownTimeoutMs <= 0 {
		cfg.Engine.ShutdownTimeoutMs = 5000
	}
	if cfg.FeedMode == "" {
		cfg.FeedMode = "rest"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	for sym, asset := range cfg.Assets {
		if asset.Perp.BidCharge == 0 {
			asset.Perp.BidCharge = 0.05
		}
		if asset.Perp.AskCharge == 0 {
			asset.Perp.AskCharge = 0.05
		}
		if asset.Perp.Charge == 0 {
			asset.Perp.Charge = 0.002
		}
		cfg.Assets[sym] = asset
	}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.ClusterURL == "" {
		return errors.New("clusterURL is required (or CLUSTER_URL env)")
	}
	if cfg.Account == "" {
		return errors.New("account is required (or LEDGER_ACCOUNT env)")
	}
	if cfg.FeedMode != "rest" && cfg.FeedMode != "stream" {
		return fmt.Errorf("feedMode must be rest or stream, got %q", cfg.FeedMode)
	}
	if len(cfg.Assets) == 0 {
		return errors.New("assets config is required")
	}
	for sym, asset := range cfg.Assets {
		p := asset.Perp
		if p.Equity <= 0 {
			return fmt.Errorf("assets.%s.perp.equity must be > 0", sym)
		}
		if p.BidCharge < 0 || p.AskCharge < 0 {
			return fmt.Errorf("assets.%s.perp charges must be >= 0", sym)
		}
		if p.RequoteThresh <= 0 {
			return fmt.Errorf("assets.%s.perp.requoteThresh must be > 0", sym)
		}
		if p.ReferenceCode == "" {
			return fmt.Errorf("assets.%s.perp.referenceVenueCode is required", sym)
		}
	}
	return nil
}

// Interval returns the loop sleep interval.
func (c AppConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// ShutdownTimeout bounds the exit-time cancel-all.
func (c AppConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.Engine.ShutdownTimeoutMs) * time.Millisecond
}
