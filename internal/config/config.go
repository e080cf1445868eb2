package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Market    MarketConfig    `yaml:"market"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	State     StateConfig     `yaml:"state"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type RESTConfig struct {
	BaseURL              string        `yaml:"base_url"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxRequestsPerSecond float64       `yaml:"max_requests_per_second"`
}

// Signing schemes observed in the wild. A deployment pins exactly one.
const (
	SigningHeader = "header"
	SigningQuery  = "query"
)

type ExchangeConfig struct {
	Signing    string     `yaml:"signing"`
	APIKey     string     `yaml:"api_key"`
	APISecret  string     `yaml:"api_secret"`
	PriceField string     `yaml:"price_field"`
	Paths      PathConfig `yaml:"paths"`
}

type PathConfig struct {
	Ticker     string `yaml:"ticker"`
	Account    string `yaml:"account"`
	Order      string `yaml:"order"`
	OpenOrders string `yaml:"open_orders"`
	Cancel     string `yaml:"cancel"`
	// CancelMethod is the HTTP method used for single-order cancels.
	CancelMethod string `yaml:"cancel_method"`
}

type MarketConfig struct {
	Symbol     string `yaml:"symbol"`
	BaseAsset  string `yaml:"base_asset"`
	QuoteAsset string `yaml:"quote_asset"`
}

type StrategyConfig struct {
	TargetPrice        float64       `yaml:"target_price"`
	SpreadFraction     float64       `yaml:"spread_fraction"`
	OrderSize          float64       `yaml:"order_size"`
	PriceFloor         float64       `yaml:"price_floor"`
	PriceCeil          float64       `yaml:"price_ceil"`
	StepDelay          time.Duration `yaml:"step_delay"`
	ErrorDelay         time.Duration `yaml:"error_delay"`
	NotifyPriceUpdates *bool         `yaml:"notify_price_updates"`
	// Heartbeat is a standard 5-field cron spec. Empty disables the digest.
	Heartbeat string `yaml:"heartbeat"`
}

func (s StrategyConfig) NotifyPriceUpdatesValue() bool {
	if s.NotifyPriceUpdates == nil {
		return true
	}
	return *s.NotifyPriceUpdates
}

type TelegramConfig struct {
	Enabled bool     `yaml:"enabled"`
	Token   string   `yaml:"token"`
	ChatIDs []string `yaml:"chat_ids"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	if m.Enabled == nil {
		return false
	}
	return *m.Enabled
}

type StateConfig struct {
	// SQLitePath is the cycle journal. Empty disables it.
	SQLitePath string `yaml:"sqlite_path"`
	// Retain caps the number of journaled cycles kept.
	Retain int `yaml:"retain"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.MaxRequestsPerSecond == 0 {
		cfg.REST.MaxRequestsPerSecond = 5
	}
	cfg.Exchange.Signing = strings.ToLower(strings.TrimSpace(cfg.Exchange.Signing))
	if cfg.Exchange.Signing == "" {
		cfg.Exchange.Signing = SigningHeader
	}
	applyPathDefaults(&cfg.Exchange)
	cfg.Market.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Market.Symbol))
	cfg.Market.BaseAsset = strings.ToUpper(strings.TrimSpace(cfg.Market.BaseAsset))
	cfg.Market.QuoteAsset = strings.ToUpper(strings.TrimSpace(cfg.Market.QuoteAsset))
	if cfg.Strategy.StepDelay == 0 {
		cfg.Strategy.StepDelay = 10 * time.Second
	}
	if cfg.Strategy.ErrorDelay == 0 {
		cfg.Strategy.ErrorDelay = cfg.Strategy.StepDelay
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "mmbot:alerts"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := false
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.State.Retain == 0 {
		cfg.State.Retain = 1000
	}
}

func applyPathDefaults(ex *ExchangeConfig) {
	defaults := PathConfig{
		Ticker:       "/sapi/v2/ticker",
		Account:      "/sapi/v1/account",
		Order:        "/sapi/v2/order",
		OpenOrders:   "/sapi/v2/openOrders",
		Cancel:       "/sapi/v2/cancel",
		CancelMethod: "POST",
	}
	priceField := "last"
	if ex.Signing == SigningQuery {
		defaults = PathConfig{
			Ticker:       "/ticker/price",
			Account:      "/account",
			Order:        "/api/v3/order",
			OpenOrders:   "/openOrders",
			Cancel:       "/api/v3/order",
			CancelMethod: "DELETE",
		}
		priceField = "price"
	}
	if ex.PriceField == "" {
		ex.PriceField = priceField
	}
	p := &ex.Paths
	if p.Ticker == "" {
		p.Ticker = defaults.Ticker
	}
	if p.Account == "" {
		p.Account = defaults.Account
	}
	if p.Order == "" {
		p.Order = defaults.Order
	}
	if p.OpenOrders == "" {
		p.OpenOrders = defaults.OpenOrders
	}
	if p.Cancel == "" {
		p.Cancel = defaults.Cancel
	}
	p.CancelMethod = strings.ToUpper(strings.TrimSpace(p.CancelMethod))
	if p.CancelMethod == "" {
		p.CancelMethod = defaults.CancelMethod
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("MM_API_KEY")); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MM_API_SECRET")); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("MM_BASE_URL")); v != "" {
		cfg.REST.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MM_TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("MM_TELEGRAM_CHAT_IDS")); v != "" {
		cfg.Telegram.ChatIDs = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("MM_REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("MM_TIMESCALE_DSN")); v != "" {
		cfg.Timescale.DSN = v
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.REST.BaseURL) == "" {
		return errors.New("rest.base_url is required")
	}
	if cfg.REST.Timeout < 0 {
		return errors.New("rest.timeout must be >= 0")
	}
	if err := nonNegative("rest.max_requests_per_second", cfg.REST.MaxRequestsPerSecond); err != nil {
		return err
	}
	switch cfg.Exchange.Signing {
	case SigningHeader, SigningQuery:
	default:
		return fmt.Errorf("exchange.signing must be %q or %q, got %q", SigningHeader, SigningQuery, cfg.Exchange.Signing)
	}
	if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
		return errors.New("exchange.api_key and exchange.api_secret are required")
	}
	if err := validateMarket(cfg.Market); err != nil {
		return err
	}
	if err := validateStrategy(cfg.Strategy); err != nil {
		return err
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || len(cfg.Telegram.ChatIDs) == 0) {
		return errors.New("telegram.token and telegram.chat_ids are required when telegram is enabled")
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	if cfg.Metrics.EnabledValue() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

func validateMarket(m MarketConfig) error {
	if m.Symbol == "" {
		return errors.New("market.symbol is required")
	}
	if m.BaseAsset != "" && m.QuoteAsset != "" {
		if m.BaseAsset+m.QuoteAsset != m.Symbol {
			return fmt.Errorf("market.base_asset %q + market.quote_asset %q does not form symbol %q", m.BaseAsset, m.QuoteAsset, m.Symbol)
		}
		return nil
	}
	if m.QuoteAsset != "" && !strings.HasSuffix(m.Symbol, m.QuoteAsset) {
		return fmt.Errorf("market.symbol %q does not end with quote asset %q", m.Symbol, m.QuoteAsset)
	}
	if m.BaseAsset != "" && !strings.HasPrefix(m.Symbol, m.BaseAsset) {
		return fmt.Errorf("market.symbol %q does not start with base asset %q", m.Symbol, m.BaseAsset)
	}
	if m.BaseAsset == "" && m.QuoteAsset == "" && len(m.Symbol) <= DefaultQuoteLen {
		return fmt.Errorf("market.symbol %q is too short to derive base and quote assets", m.Symbol)
	}
	return nil
}

// DefaultQuoteLen is the quote-currency suffix length assumed when the
// assets are not configured explicitly ("BTCUSDT" -> "BTC", "USDT").
const DefaultQuoteLen = 4

func validateStrategy(s StrategyConfig) error {
	checks := []struct {
		name  string
		value float64
	}{
		{"strategy.target_price", s.TargetPrice},
		{"strategy.spread_fraction", s.SpreadFraction},
		{"strategy.order_size", s.OrderSize},
		{"strategy.price_floor", s.PriceFloor},
		{"strategy.price_ceil", s.PriceCeil},
	}
	for _, c := range checks {
		if err := nonNegative(c.name, c.value); err != nil {
			return err
		}
	}
	if s.TargetPrice <= 0 {
		return errors.New("strategy.target_price must be > 0")
	}
	if s.OrderSize <= 0 {
		return errors.New("strategy.order_size must be > 0")
	}
	if s.SpreadFraction >= 1 {
		return errors.New("strategy.spread_fraction must be in [0, 1)")
	}
	if s.PriceCeil <= 0 {
		return errors.New("strategy.price_ceil must be > 0")
	}
	if s.PriceFloor > s.PriceCeil {
		return fmt.Errorf("strategy.price_floor %v exceeds strategy.price_ceil %v", s.PriceFloor, s.PriceCeil)
	}
	if s.StepDelay < 0 {
		return errors.New("strategy.step_delay must be >= 0")
	}
	if s.ErrorDelay < 0 {
		return errors.New("strategy.error_delay must be >= 0")
	}
	if strings.TrimSpace(s.Heartbeat) != "" {
		if _, err := cron.ParseStandard(s.Heartbeat); err != nil {
			return fmt.Errorf("strategy.heartbeat: %w", err)
		}
	}
	return nil
}

func nonNegative(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be finite", name)
	}
	if v < 0 {
		return fmt.Errorf("%s must be >= 0", name)
	}
	return nil
}
