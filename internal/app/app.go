package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mmbot/internal/alerts"
	"mmbot/internal/config"
	"mmbot/internal/exchange"
	"mmbot/internal/metrics"
	"mmbot/internal/state"
	"mmbot/internal/state/sqlite"
	"mmbot/internal/strategy"
	"mmbot/internal/timescale"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Exchange is the subset of the exchange client a cycle needs.
type Exchange interface {
	Symbol() string
	FetchPrice(ctx context.Context, fallback float64) (float64, bool)
	FetchBalance(ctx context.Context, asset string) float64
	PlaceOrder(ctx context.Context, side exchange.Side, price, size float64) (exchange.OrderResult, error)
	CancelAllOpenOrders(ctx context.Context) exchange.CancelReport
}

type Notifier interface {
	Notify(ctx context.Context, message string)
}

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	exchange   Exchange
	notifier   Notifier
	sleeper    Sleeper
	metrics    *metrics.Metrics
	prom       *metrics.Prometheus
	store      state.Store
	timescale  *timescale.Writer
	strategy   *strategy.StateMachine
	baseAsset  string
	quoteAsset string
	heartbeat  cron.Schedule
	now        func() time.Time
	newID      func() string
	closers    []io.Closer

	mu            sync.Mutex
	nextHeartbeat time.Time
	stats         alerts.Digest
}

// Deps overrides the collaborators New would build. Zero fields keep the
// defaults.
type Deps struct {
	Exchange Exchange
	Notifier Notifier
	Sleeper  Sleeper
	Store    state.Store
	Metrics  *metrics.Metrics
	Now      func() time.Time
	NewID    func() string
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	exClient, err := exchange.NewClient(exchange.Options{
		BaseURL:           cfg.REST.BaseURL,
		Timeout:           cfg.REST.Timeout,
		Scheme:            exchange.Scheme(cfg.Exchange.Signing),
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		Symbol:            cfg.Market.Symbol,
		PriceField:        cfg.Exchange.PriceField,
		RequestsPerSecond: cfg.REST.MaxRequestsPerSecond,
		Paths: exchange.Paths{
			Ticker:       cfg.Exchange.Paths.Ticker,
			Account:      cfg.Exchange.Paths.Account,
			Order:        cfg.Exchange.Paths.Order,
			OpenOrders:   cfg.Exchange.Paths.OpenOrders,
			Cancel:       cfg.Exchange.Paths.Cancel,
			CancelMethod: cfg.Exchange.Paths.CancelMethod,
		},
	}, log.Named("exchange"))
	if err != nil {
		return nil, err
	}

	var (
		sinks   []alerts.Sink
		closers []io.Closer
	)
	if cfg.Telegram.Enabled {
		sinks = append(sinks, alerts.NewTelegram(cfg.Telegram, log.Named("telegram")))
	}
	if cfg.Redis.Enabled {
		r := alerts.NewRedis(cfg.Redis, cfg.Market.Symbol, log.Named("redis"))
		sinks = append(sinks, r)
		closers = append(closers, r)
	}
	notifier := alerts.NewNotifier(log.Named("alerts"), sinks...)

	deps := Deps{Exchange: exClient, Notifier: notifier}
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		deps.Metrics = prom.Metrics
	}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}
	if path := strings.TrimSpace(cfg.State.SQLitePath); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				cleanup()
				return nil, err
			}
		}
		store, err := sqlite.New(path)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open cycle journal: %w", err)
		}
		deps.Store = store
	}
	writer, err := timescale.New(cfg.Timescale, log.Named("timescale"))
	if err != nil {
		if deps.Store != nil {
			_ = deps.Store.Close()
		}
		cleanup()
		return nil, fmt.Errorf("open timescale: %w", err)
	}
	if writer != nil {
		closers = append(closers, writer)
	}

	a, err := newApp(cfg, log, deps)
	if err != nil {
		if deps.Store != nil {
			_ = deps.Store.Close()
		}
		cleanup()
		return nil, err
	}
	a.prom = prom
	a.timescale = writer
	a.closers = append(a.closers, closers...)
	return a, nil
}

func newApp(cfg *config.Config, log *zap.Logger, deps Deps) (*App, error) {
	if deps.Exchange == nil {
		return nil, errors.New("exchange is required")
	}
	base, quote, err := strategy.SplitSymbol(cfg.Market)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:        cfg,
		log:        log,
		exchange:   deps.Exchange,
		notifier:   deps.Notifier,
		sleeper:    deps.Sleeper,
		metrics:    deps.Metrics,
		store:      deps.Store,
		strategy:   strategy.NewStateMachine(),
		baseAsset:  base,
		quoteAsset: quote,
		now:        deps.Now,
		newID:      deps.NewID,
		stats:      alerts.Digest{Symbol: cfg.Market.Symbol},
	}
	if a.notifier == nil {
		a.notifier = alerts.NewNotifier(log)
	}
	if a.sleeper == nil {
		a.sleeper = timerSleeper{}
	}
	if a.metrics == nil {
		a.metrics = metrics.NewNoop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.newID == nil {
		a.newID = uuid.NewString
	}
	if a.store != nil {
		a.closers = append(a.closers, a.store)
	}
	if spec := strings.TrimSpace(cfg.Strategy.Heartbeat); spec != "" {
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("strategy.heartbeat: %w", err)
		}
		a.heartbeat = schedule
	}
	return a, nil
}

// Run repeats cycles until ctx is cancelled. Transient failures never end
// the loop.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	stopMetrics, err := a.startMetricsServer(ctx)
	if err != nil {
		return err
	}
	defer stopMetrics()
	a.timescale.Start(ctx)
	if a.heartbeat != nil {
		a.setNextHeartbeat(a.heartbeat.Next(a.now()))
	}
	a.log.Info("market maker started",
		zap.String("symbol", a.cfg.Market.Symbol),
		zap.String("base", a.baseAsset),
		zap.String("quote", a.quoteAsset),
		zap.Float64("target", a.cfg.Strategy.TargetPrice),
		zap.Float64("spread", a.cfg.Strategy.SpreadFraction),
		zap.Float64("size", a.cfg.Strategy.OrderSize),
	)
	for {
		if err := ctx.Err(); err != nil {
			a.log.Info("market maker stopping")
			return err
		}
		if err := a.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				a.log.Info("market maker stopping")
				return ctx.Err()
			}
		}
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
}
