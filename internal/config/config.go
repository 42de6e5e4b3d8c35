package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration parses "1.1s" style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Keys struct {
	AlpacaKeyID     string `yaml:"alpaca_key_id"`
	AlpacaKeySecret string `yaml:"alpaca_key_secret"`
	AlpacaBaseURL   string `yaml:"alpaca_base_url"`
	Feed            string `yaml:"feed"`
}

// Stock is one instrument entry.
type Stock struct {
	Symbol         string   `yaml:"symbol" validate:"required"`
	Strategy       string   `yaml:"strategy" validate:"required"`
	EmergencyLimit float64  `yaml:"emergency_limit" validate:"gt=0"`
	UpperLimit     *float64 `yaml:"upper_limit" validate:"omitempty,gt=0"`
	Intensity      int      `yaml:"intensity" validate:"gt=0"`
	Fractional     bool     `yaml:"fractional"`
}

type Engine struct {
	Threads        int      `yaml:"threads" validate:"gt=0"`
	BacktestMoney  float64  `yaml:"backtest_money" validate:"gte=0"`
	BacktestData   string   `yaml:"backtest_data"`
	PacingBurst    int      `yaml:"pacing_burst" validate:"gt=0"`
	PacingInterval Duration `yaml:"pacing_interval"`
	ReplyTimeout   Duration `yaml:"reply_timeout"`
	RiskOffHour    int      `yaml:"risk_off_hour" validate:"gte=0,lte=23"`
	QueueSize      int      `yaml:"queue_size" validate:"gt=0"`
	StatePath      string   `yaml:"state_path"`
}

type Config struct {
	Keys        Keys    `yaml:"keys"`
	Stocks      []Stock `yaml:"stocks" validate:"required,min=1,dive"`
	StockEngine Engine  `yaml:"stock_engine_config"`
	TestingMode bool    `yaml:"testing_mode"`
}

// Load reads the YAML config, applies env-var key overrides and defaults, and
// validates the result. Broker keys are only mandatory outside backtest mode.
func Load(path string) (Config, error) {
	cfg := Config{
		StockEngine: Engine{
			Threads:        4,
			BacktestMoney:  10000,
			BacktestData:   "./backtest_data",
			PacingBurst:    4,
			PacingInterval: Duration(1100 * time.Millisecond),
			ReplyTimeout:   Duration(30 * time.Second),
			RiskOffHour:    18,
			QueueSize:      32,
			StatePath:      "./stock_state.db",
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Env wins over the file so keys can stay out of it.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Keys.AlpacaKeyID = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Keys.AlpacaKeySecret = v
	}
	if cfg.Keys.AlpacaBaseURL == "" {
		cfg.Keys.AlpacaBaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.Keys.Feed == "" {
		cfg.Keys.Feed = "iex"
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.TestingMode && (cfg.Keys.AlpacaKeyID == "" || cfg.Keys.AlpacaKeySecret == "") {
		return fmt.Errorf("alpaca_key_id and alpaca_key_secret are required outside backtest mode")
	}
	if cfg.StockEngine.PacingInterval <= 0 {
		return fmt.Errorf("pacing_interval must be positive")
	}
	if cfg.StockEngine.ReplyTimeout <= 0 {
		return fmt.Errorf("reply_timeout must be positive")
	}
	seen := make(map[string]bool, len(cfg.Stocks))
	for _, stock := range cfg.Stocks {
		if seen[stock.Symbol] {
			return fmt.Errorf("duplicate stock symbol %q", stock.Symbol)
		}
		seen[stock.Symbol] = true
	}
	return nil
}

// Symbols returns the configured instrument symbols in file order.
func (c Config) Symbols() []string {
	symbols := make([]string, 0, len(c.Stocks))
	for _, stock := range c.Stocks {
		symbols = append(symbols, stock.Symbol)
	}
	return symbols
}
