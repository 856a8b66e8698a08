package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VeinDevTtv/vein-smc-bot/internal/confluence"
	"github.com/VeinDevTtv/vein-smc-bot/internal/market"
)

type Config struct {
	Strategy Strategy       `json:"strategy" yaml:"strategy"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Backtest BacktestConfig `json:"backtest" yaml:"backtest"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// SessionConfig is an intraday window in "HH:MM" form. Empty bounds mean
// the whole day.
type SessionConfig struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// BandConfig holds the retracement fractions of the swing range.
type BandConfig struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// Strategy is the immutable parameter set of the setup engine.
type Strategy struct {
	RiskFraction          float64       `json:"risk_fraction" yaml:"risk_fraction"`
	DailyLossCapFraction  float64       `json:"daily_loss_cap_fraction" yaml:"daily_loss_cap_fraction"`
	Leverage              float64       `json:"leverage" yaml:"leverage"`
	ContractMultiplier    float64       `json:"contract_multiplier" yaml:"contract_multiplier"`
	QuoteIncrement        float64       `json:"quote_increment" yaml:"quote_increment"`
	SizeIncrement         float64       `json:"size_increment" yaml:"size_increment"`
	SweepLookback         int           `json:"sweep_lookback" yaml:"sweep_lookback"`
	SweepPierceRatio      float64       `json:"sweep_pierce_ratio" yaml:"sweep_pierce_ratio"`
	DisplacementBodyRatio float64       `json:"displacement_body_ratio" yaml:"displacement_body_ratio"`
	HTFRatio              int           `json:"htf_ratio" yaml:"htf_ratio"`
	BOSTolerance          float64       `json:"bos_tolerance" yaml:"bos_tolerance"`
	RetracementBand       BandConfig    `json:"retracement_band" yaml:"retracement_band"`
	ConfluenceMinScore    int           `json:"confluence_min_score" yaml:"confluence_min_score"`
	ConfluenceFilters     []string      `json:"confluence_filters" yaml:"confluence_filters"`
	MaxOrderAgeBars       int           `json:"max_order_age_bars" yaml:"max_order_age_bars"`
	SetupMaxAgeBars       int           `json:"setup_max_age_bars" yaml:"setup_max_age_bars"`
	TradingWindow         SessionConfig `json:"trading_window" yaml:"trading_window"`
	SweepWindow           SessionConfig `json:"sweep_window" yaml:"sweep_window"`
	Timezone              string        `json:"timezone" yaml:"timezone"`
	StopBuffer            float64       `json:"stop_buffer" yaml:"stop_buffer"`
	RRTarget              float64       `json:"rr_target" yaml:"rr_target"`
	BreakevenR            float64       `json:"breakeven_r" yaml:"breakeven_r"`
	ATRPeriod             int           `json:"atr_period" yaml:"atr_period"`
	MAPeriod              int           `json:"ma_period" yaml:"ma_period"`
}

type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`               // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output" yaml:"output"`             // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format" yaml:"json_format"`   // Output as JSON
	IncludeFile bool   `json:"include_file" yaml:"include_file"` // Include file and line number
}

// BacktestConfig drives the bundled paper run.
type BacktestConfig struct {
	BarsPath       string  `json:"bars_path" yaml:"bars_path"`
	InitialBalance float64 `json:"initial_balance" yaml:"initial_balance"`
}

// ServerConfig holds the status API settings
type ServerConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	AllowedOrigins  string `json:"allowed_origins" yaml:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout" yaml:"read_timeout"`         // seconds
	WriteTimeout    int    `json:"write_timeout" yaml:"write_timeout"`       // seconds
	ShutdownTimeout int    `json:"shutdown_timeout" yaml:"shutdown_timeout"` // seconds
}

// MetricsConfig controls the prometheus collector
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// DefaultStrategy returns the reference parameter set: 15-minute bars, a
// 4-hour bias candle and the New York morning session.
func DefaultStrategy() Strategy {
	return Strategy{
		RiskFraction:          0.005,
		DailyLossCapFraction:  0.01,
		Leverage:              15,
		ContractMultiplier:    100,
		QuoteIncrement:        0.25,
		SizeIncrement:         0.01,
		SweepLookback:         48,
		SweepPierceRatio:      0.1,
		DisplacementBodyRatio: 1.2,
		HTFRatio:              16,
		BOSTolerance:          0.002,
		RetracementBand:       BandConfig{Low: 0.62, High: 0.79},
		ConfluenceMinScore:    5,
		ConfluenceFilters: []string{
			"time_window", "bias", "sweep", "gap", "order_block", "retracement",
		},
		MaxOrderAgeBars: 20,
		SetupMaxAgeBars: 20,
		TradingWindow:   SessionConfig{Start: "13:30", End: "19:00"},
		SweepWindow:     SessionConfig{Start: "13:30", End: "14:30"},
		Timezone:        "UTC",
		StopBuffer:      0.1,
		RRTarget:        1.5,
		BreakevenR:      1,
		ATRPeriod:       14,
		MAPeriod:        800,
	}
}

// Default returns a complete configuration with every default applied.
func Default() *Config {
	return &Config{
		Strategy: DefaultStrategy(),
		Logging: LoggingConfig{
			Level:  "INFO",
			Output: "stdout",
		},
		Backtest: BacktestConfig{
			InitialBalance: 100000,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "smc",
		},
	}
}

// Load reads path (JSON, or YAML for .yaml/.yml) over the defaults, applies
// SMC_* environment overrides and validates the result. An empty path uses
// the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, cfg)
	default:
		err = json.Unmarshal(file, cfg)
	}
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	s := &cfg.Strategy
	s.RiskFraction = getEnvFloatOrDefault("SMC_RISK_FRACTION", s.RiskFraction)
	s.DailyLossCapFraction = getEnvFloatOrDefault("SMC_DAILY_LOSS_CAP_FRACTION", s.DailyLossCapFraction)
	s.Leverage = getEnvFloatOrDefault("SMC_LEVERAGE", s.Leverage)
	s.ContractMultiplier = getEnvFloatOrDefault("SMC_CONTRACT_MULTIPLIER", s.ContractMultiplier)
	s.ConfluenceMinScore = getEnvIntOrDefault("SMC_CONFLUENCE_MIN_SCORE", s.ConfluenceMinScore)
	s.Timezone = getEnvOrDefault("SMC_TIMEZONE", s.Timezone)
	if filters := getEnvOrDefault("SMC_CONFLUENCE_FILTERS", ""); filters != "" {
		s.ConfluenceFilters = strings.Split(filters, ",")
	}

	// Logging config
	cfg.Logging.Level = getEnvOrDefault("SMC_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("SMC_LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("SMC_LOG_JSON", cfg.Logging.JSONFormat)

	// Backtest config
	cfg.Backtest.BarsPath = getEnvOrDefault("SMC_BARS_PATH", cfg.Backtest.BarsPath)
	cfg.Backtest.InitialBalance = getEnvFloatOrDefault("SMC_INITIAL_BALANCE", cfg.Backtest.InitialBalance)

	// Server config
	cfg.Server.Enabled = getEnvBoolOrDefault("SMC_SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Host = getEnvOrDefault("SMC_WEB_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("SMC_WEB_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SMC_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Metrics.Enabled = getEnvBoolOrDefault("SMC_METRICS_ENABLED", cfg.Metrics.Enabled)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	errs := []error{c.Strategy.Validate()}
	if c.Backtest.InitialBalance <= 0 {
		errs = append(errs, errors.New("backtest.initial_balance must be positive"))
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// Validate reports every invalid strategy parameter at once.
func (s Strategy) Validate() error {
	var errs []error
	positive := map[string]float64{
		"risk_fraction":           s.RiskFraction,
		"leverage":                s.Leverage,
		"contract_multiplier":     s.ContractMultiplier,
		"sweep_pierce_ratio":      s.SweepPierceRatio,
		"displacement_body_ratio": s.DisplacementBodyRatio,
		"rr_target":               s.RRTarget,
	}
	for _, name := range []string{
		"risk_fraction", "leverage", "contract_multiplier",
		"sweep_pierce_ratio", "displacement_body_ratio", "rr_target",
	} {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, positive[name]))
		}
	}
	if s.RiskFraction >= 1 {
		errs = append(errs, fmt.Errorf("risk_fraction must be below 1, got %v", s.RiskFraction))
	}
	if s.DailyLossCapFraction < 0 || s.DailyLossCapFraction >= 1 {
		errs = append(errs, fmt.Errorf("daily_loss_cap_fraction must be in [0,1), got %v", s.DailyLossCapFraction))
	}
	if s.QuoteIncrement < 0 || s.SizeIncrement < 0 || s.StopBuffer < 0 || s.BOSTolerance < 0 {
		errs = append(errs, errors.New("quote_increment, size_increment, stop_buffer and bos_tolerance must not be negative"))
	}
	if s.SweepLookback < 1 {
		errs = append(errs, fmt.Errorf("sweep_lookback must be at least 1, got %d", s.SweepLookback))
	}
	if s.HTFRatio < 1 {
		errs = append(errs, fmt.Errorf("htf_ratio must be at least 1, got %d", s.HTFRatio))
	}
	if s.RetracementBand.Low < 0 || s.RetracementBand.High > 1 || s.RetracementBand.Low > s.RetracementBand.High {
		errs = append(errs, fmt.Errorf("retracement_band must satisfy 0 <= low <= high <= 1, got %v-%v",
			s.RetracementBand.Low, s.RetracementBand.High))
	}
	filters, err := confluence.ParseFilters(s.ConfluenceFilters)
	if err != nil {
		errs = append(errs, fmt.Errorf("confluence_filters: %w", err))
	} else {
		n := len(filters)
		if n == 0 {
			n = len(confluence.AllFilters)
		}
		if s.ConfluenceMinScore < 0 || s.ConfluenceMinScore > n {
			errs = append(errs, fmt.Errorf("confluence_min_score %d unreachable with %d filters", s.ConfluenceMinScore, n))
		}
	}
	if s.MaxOrderAgeBars < 0 || s.SetupMaxAgeBars < 0 {
		errs = append(errs, errors.New("max_order_age_bars and setup_max_age_bars must not be negative"))
	}
	if s.ATRPeriod < 1 || s.MAPeriod < 1 {
		errs = append(errs, errors.New("atr_period and ma_period must be at least 1"))
	}
	if _, _, err := s.Windows(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves the configured timezone.
func (s Strategy) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// Windows parses the trading and sweep windows in the configured timezone.
func (s Strategy) Windows() (trading, sweep market.Window, err error) {
	loc, err := s.Location()
	if err != nil {
		return market.Window{}, market.Window{}, err
	}
	trading, err = market.ParseWindow(s.TradingWindow.Start, s.TradingWindow.End, loc)
	if err != nil {
		return market.Window{}, market.Window{}, fmt.Errorf("trading_window: %w", err)
	}
	sweep, err = market.ParseWindow(s.SweepWindow.Start, s.SweepWindow.End, loc)
	if err != nil {
		return market.Window{}, market.Window{}, fmt.Errorf("sweep_window: %w", err)
	}
	return trading, sweep, nil
}

// Filters returns the parsed confluence filter set.
func (s Strategy) Filters() []confluence.Filter {
	filters, err := confluence.ParseFilters(s.ConfluenceFilters)
	if err != nil {
		return nil
	}
	return filters
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file, YAML when the
// name ends in .yaml or .yml and JSON otherwise.
func GenerateSampleConfig(filename string) error {
	cfg := Default()
	cfg.Backtest.BarsPath = "data/bars.csv"

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
