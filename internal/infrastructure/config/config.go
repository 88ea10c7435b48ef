package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		Listen            string `toml:"listen"`
		TickIntervalMs    int    `toml:"tick_interval_ms"`
		SnapshotEveryMin  int    `toml:"snapshot_every_min"`
		RetentionDays     int    `toml:"retention_days"`
		RetentionSweepHrs int    `toml:"retention_sweep_hours"`
		ReverifyEveryHrs  int    `toml:"reverify_every_hours"`
		WarmTop           int    `toml:"warm_top"`
	} `toml:"app"`

	Oracle struct {
		MaxAgeSec         int `toml:"max_age_sec"`
		SnapshotMaxAgeSec int `toml:"snapshot_max_age_sec"`
		CallTimeoutMs     int `toml:"call_timeout_ms"`
		Retries           int `toml:"retries"`
		BackoffMs         int `toml:"backoff_ms"`
	} `toml:"oracle"`

	Cache struct {
		MaxEntries       int      `toml:"max_entries"`
		DurableCutoffMin int      `toml:"durable_cutoff_min"`
		MicroAgeMs       int      `toml:"micro_age_ms"`
		RedisURL         string   `toml:"redis_url"`
		RedisTTLSec      int      `toml:"redis_ttl_sec"`
		StableCoins      []string `toml:"stable_coins"`
		MajorCount       int      `toml:"major_count"`
	} `toml:"cache"`

	Storage struct {
		Driver      string `toml:"driver"` // sqlite | postgres
		SQLitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"storage"`

	Chains []Chain `toml:"chains"`
	Coins  []Coin  `toml:"coins"`
}

// Chain is one RPC endpoint plus its optional feed registry. Order in the
// config file is resolution priority order.
type Chain struct {
	Name     string `toml:"name"`
	RPCURL   string `toml:"rpc_url"`
	Registry string `toml:"registry"`
}

// Coin declares one supported asset. Feed is an operator-pinned aggregator
// address (highest trust); Tokens maps chain name to the coin's token
// address for registry lookups.
type Coin struct {
	ID      string            `toml:"id"`
	Symbol  string            `toml:"symbol"`
	Pair    string            `toml:"pair"`
	Aliases []string          `toml:"aliases"`
	Feed    string            `toml:"feed"`
	Tokens  map[string]string `toml:"tokens"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Listen == "" {
		cfg.App.Listen = ":8080"
	}
	if cfg.App.TickIntervalMs <= 0 {
		cfg.App.TickIntervalMs = 1000
	}
	if cfg.App.SnapshotEveryMin <= 0 {
		cfg.App.SnapshotEveryMin = 5
	}
	if cfg.App.RetentionDays <= 0 {
		cfg.App.RetentionDays = 7
	}
	if cfg.App.RetentionSweepHrs <= 0 {
		cfg.App.RetentionSweepHrs = 6
	}
	if cfg.App.ReverifyEveryHrs <= 0 {
		cfg.App.ReverifyEveryHrs = 24
	}
	if cfg.Oracle.MaxAgeSec <= 0 {
		cfg.Oracle.MaxAgeSec = 3600
	}
	if cfg.Oracle.SnapshotMaxAgeSec <= 0 {
		cfg.Oracle.SnapshotMaxAgeSec = 24 * 3600
	}
	if cfg.Oracle.CallTimeoutMs <= 0 {
		cfg.Oracle.CallTimeoutMs = 5000
	}
	if cfg.Oracle.Retries <= 0 {
		cfg.Oracle.Retries = 1
	}
	if cfg.Oracle.BackoffMs <= 0 {
		cfg.Oracle.BackoffMs = 500
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 300
	}
	if cfg.Cache.DurableCutoffMin <= 0 {
		cfg.Cache.DurableCutoffMin = 60
	}
	if cfg.Cache.MicroAgeMs <= 0 {
		cfg.Cache.MicroAgeMs = 2000
	}
	if cfg.Cache.RedisTTLSec <= 0 {
		cfg.Cache.RedisTTLSec = 600
	}
	if cfg.Cache.MajorCount <= 0 {
		cfg.Cache.MajorCount = 50
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/pricepulse.db"
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}

	if len(cfg.Chains) == 0 {
		return errors.New("chains is empty")
	}
	seenChain := map[string]struct{}{}
	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name == "" {
			return errors.New("chain with empty name")
		}
		if strings.TrimSpace(c.RPCURL) == "" {
			return fmt.Errorf("chain %s has no rpc_url", c.Name)
		}
		if _, ok := seenChain[c.Name]; ok {
			return fmt.Errorf("duplicate chain %s", c.Name)
		}
		seenChain[c.Name] = struct{}{}
	}

	if len(cfg.Coins) == 0 {
		return errors.New("coins is empty")
	}
	seenCoin := map[string]struct{}{}
	for i := range cfg.Coins {
		c := &cfg.Coins[i]
		c.ID = strings.ToLower(strings.TrimSpace(c.ID))
		c.Symbol = strings.ToLower(strings.TrimSpace(c.Symbol))
		if c.ID == "" || c.Symbol == "" {
			return errors.New("coin with empty id or symbol")
		}
		if c.Pair == "" {
			c.Pair = c.Symbol + "-usd"
		}
		c.Pair = strings.ToLower(c.Pair)
		if _, ok := seenCoin[c.ID]; ok {
			return fmt.Errorf("duplicate coin %s", c.ID)
		}
		seenCoin[c.ID] = struct{}{}
	}
	return nil
}

// Convenience duration accessors so callers never re-derive units.

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.App.TickIntervalMs) * time.Millisecond
}

func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.App.SnapshotEveryMin) * time.Minute
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.App.RetentionDays) * 24 * time.Hour
}

func (c *Config) RetentionSweep() time.Duration {
	return time.Duration(c.App.RetentionSweepHrs) * time.Hour
}

func (c *Config) ReverifyEvery() time.Duration {
	return time.Duration(c.App.ReverifyEveryHrs) * time.Hour
}

func (c *Config) OracleMaxAge() time.Duration {
	return time.Duration(c.Oracle.MaxAgeSec) * time.Second
}

func (c *Config) SnapshotMaxAge() time.Duration {
	return time.Duration(c.Oracle.SnapshotMaxAgeSec) * time.Second
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Oracle.CallTimeoutMs) * time.Millisecond
}

func (c *Config) Backoff() time.Duration {
	return time.Duration(c.Oracle.BackoffMs) * time.Millisecond
}

func (c *Config) DurableCutoff() time.Duration {
	return time.Duration(c.Cache.DurableCutoffMin) * time.Minute
}

func (c *Config) MicroAge() time.Duration {
	return time.Duration(c.Cache.MicroAgeMs) * time.Millisecond
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Cache.RedisTTLSec) * time.Second
}
