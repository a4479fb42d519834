package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"paper_go/internal/execution"
	"paper_go/internal/latency"
	"paper_go/internal/risk"
	"paper_go/pkg/quant"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the daemon. Decimal values are strings in YAML
// and are parsed strictly when the engine config is built.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine     EngineSection     `yaml:"engine"`
	Risk       RiskSection       `yaml:"risk"`
	Storage    StorageSection    `yaml:"storage"`
	Checkpoint CheckpointSection `yaml:"checkpoint"`
	Feed       FeedSection       `yaml:"feed"`
	Server     ServerSection     `yaml:"server"`
	Logging    LoggingSection    `yaml:"logging"`
}

type EngineSection struct {
	Identity    string   `yaml:"identity" validate:"required,excludesall=/\\"`
	InitialCash string   `yaml:"initial_cash" validate:"required"`
	Symbols     []string `yaml:"symbols" validate:"required,min=1,unique,dive,required"`
	Seed        uint64   `yaml:"seed"`
	InboxSize   int      `yaml:"inbox_size" validate:"gte=0"`

	Latency struct {
		Profile      string       `yaml:"profile" validate:"omitempty,oneof=zero none fast low typical slow high custom"`
		Submission   RangeSection `yaml:"submission"`
		Fill         RangeSection `yaml:"fill"`
		Cancellation RangeSection `yaml:"cancellation"`
	} `yaml:"latency"`

	Fill struct {
		SlippageBps        int64  `yaml:"slippage_bps" validate:"gte=0"`
		CommissionPerShare string `yaml:"commission_per_share"`
		CommissionFlat     string `yaml:"commission_flat"`
		MaxQtyPerTick      string `yaml:"max_qty_per_tick"`
	} `yaml:"fill"`
}

// RangeSection is a latency range; YAML durations like "50ms".
type RangeSection struct {
	Min time.Duration `yaml:"min" validate:"gte=0"`
	Max time.Duration `yaml:"max" validate:"gte=0"`
}

type RiskSection struct {
	AllowMargin bool `yaml:"allow_margin"`
	Position    *struct {
		MaxShares   string `yaml:"max_shares"`
		MaxNotional string `yaml:"max_notional"`
	} `yaml:"position"`
	Exposure *struct {
		MaxGross string `yaml:"max_gross"`
		MaxNet   string `yaml:"max_net"`
	} `yaml:"exposure"`
	Drawdown *struct {
		MaxDaily string `yaml:"max_daily"`
		MaxTotal string `yaml:"max_total"`
	} `yaml:"drawdown"`
}

type StorageSection struct {
	Backend       string `yaml:"backend" validate:"oneof=file sqlite badger redis memory"`
	Dir           string `yaml:"dir"` // empty = workspace dir
	Journal       bool   `yaml:"journal"`
	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
	RedisPrefix   string `yaml:"redis_prefix"`
	SecretsFile   string `yaml:"secrets_file"`
}

type CheckpointSection struct {
	Interval       time.Duration `yaml:"interval" validate:"gte=0"`
	Keep           int           `yaml:"keep" validate:"gte=0"`
	OnShutdown     bool          `yaml:"on_shutdown"`
	RestoreOnStart bool          `yaml:"restore_on_start"`
}

type FeedSection struct {
	WSURL   string   `yaml:"ws_url" validate:"omitempty,url,startswith=ws"`
	Symbols []string `yaml:"symbols"`
}

type ServerSection struct {
	HTTPAddr       string        `yaml:"http_addr"`
	MetricsAddr    string        `yaml:"metrics_addr"` // empty = /metrics on the API server
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
	OrderRateLimit float64       `yaml:"order_rate_limit" validate:"gte=0"` // per second, 0 = off
	OrderBurst     int           `yaml:"order_burst" validate:"gte=0"`
}

type LoggingSection struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json zap"`
}

// DefaultConfig is the base every file and environment override is applied on.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = AppName
	cfg.App.Version = "dev"
	cfg.Engine.Identity = "default"
	cfg.Engine.InitialCash = "100000"
	cfg.Engine.Seed = 1
	cfg.Engine.Latency.Profile = latency.NameZero
	cfg.Storage.Backend = "file"
	cfg.Storage.Journal = true
	cfg.Storage.RedisPrefix = "paper"
	cfg.Checkpoint.Interval = time.Minute
	cfg.Checkpoint.Keep = 10
	cfg.Checkpoint.OnShutdown = true
	cfg.Checkpoint.RestoreOnStart = true
	cfg.Server.HTTPAddr = ":8080"
	cfg.Server.MetricsAddr = ":9090"
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads path on top of the defaults, loads .env, applies PAPER_*
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if cfg.Storage.SecretsFile != "" {
		secrets, err := LoadSecretConfig(cfg.Storage.SecretsFile)
		if err != nil {
			return nil, err
		}
		secrets.apply(cfg)
	}

	// Environment wins over files.
	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate runs struct-tag validation and then builds the engine config,
// which catches every semantic problem (bad decimals, bad ranges).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Server.OrderRateLimit == 0 && c.Server.OrderBurst > 0 {
		return fmt.Errorf("server.order_burst %d needs a positive server.order_rate_limit", c.Server.OrderBurst)
	}
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	return nil
}

// EngineConfig converts the file layout into the immutable engine configuration.
func (c *Config) EngineConfig() (execution.Config, error) {
	var errs []error
	num := func(field, s string) decimal.Decimal {
		if strings.TrimSpace(s) == "" {
			return decimal.Zero
		}
		d, err := quant.ParseDecimal(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return d
	}

	out := execution.Config{
		Identity:    c.Engine.Identity,
		InitialCash: num("engine.initial_cash", c.Engine.InitialCash),
		Symbols:     append([]string(nil), c.Engine.Symbols...),
		Seed:        c.Engine.Seed,
		Fill: execution.FillPolicy{
			SlippageBps:        quant.Bps(c.Engine.Fill.SlippageBps),
			CommissionPerShare: num("engine.fill.commission_per_share", c.Engine.Fill.CommissionPerShare),
			CommissionFlat:     num("engine.fill.commission_flat", c.Engine.Fill.CommissionFlat),
			MaxQtyPerTick:      num("engine.fill.max_qty_per_tick", c.Engine.Fill.MaxQtyPerTick),
		},
		Risk: risk.Config{AllowMargin: c.Risk.AllowMargin},
	}

	lat := c.Engine.Latency
	if lat.Profile == latency.NameCustom {
		p, err := latency.Custom(
			latency.Between(lat.Submission.Min, lat.Submission.Max),
			latency.Between(lat.Fill.Min, lat.Fill.Max),
			latency.Between(lat.Cancellation.Min, lat.Cancellation.Max),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("engine.latency: %w", err))
		}
		out.Latency = p
	} else {
		p, err := latency.ProfileByName(lat.Profile)
		if err != nil {
			errs = append(errs, err)
		}
		out.Latency = p
	}

	if p := c.Risk.Position; p != nil {
		out.Risk.Position = &risk.PositionLimit{
			MaxShares:   num("risk.position.max_shares", p.MaxShares),
			MaxNotional: num("risk.position.max_notional", p.MaxNotional),
		}
	}
	if e := c.Risk.Exposure; e != nil {
		out.Risk.Exposure = &risk.ExposureLimit{
			MaxGross: num("risk.exposure.max_gross", e.MaxGross),
			MaxNet:   num("risk.exposure.max_net", e.MaxNet),
		}
	}
	if d := c.Risk.Drawdown; d != nil {
		out.Risk.Drawdown = &risk.DrawdownLimit{
			MaxDaily: num("risk.drawdown.max_daily", d.MaxDaily),
			MaxTotal: num("risk.drawdown.max_total", d.MaxTotal),
		}
	}

	if err := errors.Join(errs...); err != nil {
		return execution.Config{}, err
	}
	if err := out.Validate(); err != nil {
		return execution.Config{}, err
	}
	return out, nil
}

// overrideWithEnv applies PAPER_* variables. Secrets belong here, not in the file.
func overrideWithEnv(cfg *Config) error {
	if cfg.Storage.RedisPassword != "" && cfg.Storage.SecretsFile == "" {
		slog.Warn("SECURITY_WARNING: redis password found in config file; prefer PAPER_REDIS_PASSWORD")
	}

	str := map[string]*string{
		"PAPER_IDENTITY":        &cfg.Engine.Identity,
		"PAPER_INITIAL_CASH":    &cfg.Engine.InitialCash,
		"PAPER_LATENCY_PROFILE": &cfg.Engine.Latency.Profile,
		"PAPER_STORAGE_BACKEND": &cfg.Storage.Backend,
		"PAPER_STORAGE_DIR":     &cfg.Storage.Dir,
		"PAPER_REDIS_ADDR":      &cfg.Storage.RedisAddr,
		"PAPER_REDIS_PASSWORD":  &cfg.Storage.RedisPassword,
		"PAPER_FEED_URL":        &cfg.Feed.WSURL,
		"PAPER_HTTP_ADDR":       &cfg.Server.HTTPAddr,
		"PAPER_METRICS_ADDR":    &cfg.Server.MetricsAddr,
		"PAPER_LOG_LEVEL":       &cfg.Logging.Level,
		"PAPER_LOG_FORMAT":      &cfg.Logging.Format,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("PAPER_SYMBOLS"); ok {
		cfg.Engine.Symbols = splitList(v)
	}
	if v, ok := os.LookupEnv("PAPER_SEED"); ok {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("PAPER_SEED: %w", err)
		}
		cfg.Engine.Seed = seed
	}
	if v, ok := os.LookupEnv("PAPER_CHECKPOINT_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PAPER_CHECKPOINT_INTERVAL: %w", err)
		}
		cfg.Checkpoint.Interval = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
