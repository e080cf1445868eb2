package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"mmbot/internal/config"
	"mmbot/internal/exchange"
	"mmbot/internal/metrics"
	"mmbot/internal/state"
	"mmbot/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

type placed struct {
	side  exchange.Side
	price float64
	size  float64
}

type fakeExchange struct {
	mu          sync.Mutex
	price       float64
	live        bool
	balances    map[string]float64
	placeErr    map[exchange.Side]error
	panicOn     string
	report      exchange.CancelReport
	placed      []placed
	calls       []string
	cancelledAt []error
}

func (f *fakeExchange) Symbol() string { return "BTCUSDT" }

func (f *fakeExchange) record(ctx context.Context, call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.cancelledAt = append(f.cancelledAt, ctx.Err())
	if f.panicOn == call {
		panic("exchange exploded")
	}
}

func (f *fakeExchange) FetchPrice(ctx context.Context, fallback float64) (float64, bool) {
	f.record(ctx, "price")
	if !f.live {
		return fallback, false
	}
	return f.price, true
}

func (f *fakeExchange) FetchBalance(ctx context.Context, asset string) float64 {
	f.record(ctx, "balance:"+asset)
	return f.balances[asset]
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, side exchange.Side, price, size float64) (exchange.OrderResult, error) {
	f.record(ctx, "place:"+string(side))
	if err := f.placeErr[side]; err != nil {
		return exchange.OrderResult{}, err
	}
	f.mu.Lock()
	f.placed = append(f.placed, placed{side: side, price: price, size: size})
	f.mu.Unlock()
	return exchange.OrderResult{OrderID: "id-" + string(side), Side: side}, nil
}

func (f *fakeExchange) CancelAllOpenOrders(ctx context.Context) exchange.CancelReport {
	f.record(ctx, "cancel")
	return f.report
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) matching(substr string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.messages {
		if strings.Contains(m, substr) {
			out = append(out, m)
		}
	}
	return out
}

// fakeSleeper returns immediately and records each delay. onSleep runs
// before the context check.
type fakeSleeper struct {
	mu      sync.Mutex
	delays  []time.Duration
	onSleep func(n int)
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	s.mu.Unlock()
	if s.onSleep != nil {
		s.onSleep(n)
	}
	return ctx.Err()
}

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Market: config.MarketConfig{Symbol: "BTCUSDT"},
		Strategy: config.StrategyConfig{
			TargetPrice:    100,
			SpreadFraction: 0.01,
			OrderSize:      1,
			PriceFloor:     90,
			PriceCeil:      110,
			StepDelay:      10 * time.Second,
			ErrorDelay:     30 * time.Second,
		},
		State: config.StateConfig{Retain: 10},
	}
}

type harness struct {
	app      *App
	ex       *fakeExchange
	notifier *recordingNotifier
	sleeper  *fakeSleeper
	store    *memoryStore
	prom     *metrics.Prometheus
	clock    *time.Time
}

func newHarness(t *testing.T, cfg *config.Config, ex *fakeExchange) *harness {
	t.Helper()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := &harness{
		ex:       ex,
		notifier: &recordingNotifier{},
		sleeper:  &fakeSleeper{},
		store:    &memoryStore{},
		prom:     metrics.NewPrometheus(),
		clock:    &clock,
	}
	ids := 0
	app, err := newApp(cfg, zap.NewNop(), Deps{
		Exchange: ex,
		Notifier: h.notifier,
		Sleeper:  h.sleeper,
		Store:    h.store,
		Metrics:  h.prom.Metrics,
		Now:      func() time.Time { return *h.clock },
		NewID: func() string {
			ids++
			return fmt.Sprintf("cycle-%d", ids)
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	h.app = app
	return h
}

func richExchange() *fakeExchange {
	return &fakeExchange{
		price:    100.5,
		live:     true,
		balances: map[string]float64{"BTC": 5, "USDT": 1000},
		report:   exchange.CancelReport{Listed: 2, Cancelled: 2},
	}
}

func TestCycleQuotesBothSides(t *testing.T) {
	h := newHarness(t, testConfig(), richExchange())
	if err := h.app.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(h.ex.placed) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(h.ex.placed))
	}
	buy, sell := h.ex.placed[0], h.ex.placed[1]
	if buy.side != exchange.SideBuy || buy.price != 99 || buy.size != 1 {
		t.Fatalf("unexpected buy %+v", buy)
	}
	if sell.side != exchange.SideSell || sell.price != 101 || sell.size != 1 {
		t.Fatalf("unexpected sell %+v", sell)
	}
	wantCalls := "price,cancel,balance:BTC,balance:USDT,place:BUY,place:SELL"
	if got := strings.Join(h.ex.calls, ","); got != wantCalls {
		t.Fatalf("expected calls %s, got %s", wantCalls, got)
	}
	if len(h.sleeper.delays) != 6 {
		t.Fatalf("expected 6 step delays, got %d", len(h.sleeper.delays))
	}
	for _, d := range h.sleeper.delays {
		if d != 10*time.Second {
			t.Fatalf("expected step delay 10s, got %v", d)
		}
	}
	if got := h.notifier.matching("BTCUSDT Price Update"); len(got) != 1 || got[0] != "📊 *BTCUSDT Price Update:* `100.5`" {
		t.Fatalf("expected one price update, got %v", got)
	}
	if h.app.strategy.Current() != strategy.StateFetchPrice {
		t.Fatalf("expected machine back at %s, got %s", strategy.StateFetchPrice, h.app.strategy.Current())
	}
	if got := counterValue(t, h.prom.Metrics.Cycles); got != 1 {
		t.Fatalf("expected 1 cycle, got %v", got)
	}
	record, ok, err := state.LoadLastCycle(context.Background(), h.store)
	if err != nil || !ok {
		t.Fatalf("expected journaled cycle, got ok=%v err=%v", ok, err)
	}
	if record.CycleID != "cycle-1" || record.Bid != 99 || record.Ask != 101 || record.BuyOrderID != "id-BUY" || record.Cancelled != 2 {
		t.Fatalf("unexpected record %+v", record)
	}
}

func counterValue(t *testing.T, c metrics.Counter) float64 {
	t.Helper()
	collector, ok := c.(prometheus.Collector)
	if !ok {
		t.Fatalf("counter %T is not a collector", c)
	}
	return testutil.ToFloat64(collector)
}

func TestInsufficientQuoteSkipsBuyAndNotifiesOnce(t *testing.T) {
	ex := richExchange()
	ex.balances["USDT"] = 50
	h := newHarness(t, testConfig(), ex)
	if err := h.app.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	got := h.notifier.matching("Not enough")
	if len(got) != 1 {
		t.Fatalf("expected exactly one insufficient-funds notification, got %v", got)
	}
	if got[0] != "❗ Not enough USDT to BUY: Have 50.00, need 99.00" {
		t.Fatalf("unexpected message %q", got[0])
	}
	if len(h.ex.placed) != 1 || h.ex.placed[0].side != exchange.SideSell {
		t.Fatalf("expected only the sell to be placed, got %+v", h.ex.placed)
	}
	if got := counterValue(t, metrics.ForSide(h.prom.Metrics.InsufficientFunds, "BUY")); got != 1 {
		t.Fatalf("expected 1 insufficient-funds skip, got %v", got)
	}
	record, _, _ := state.LoadLastCycle(context.Background(), h.store)
	if !record.BuySkipped || record.SellSkipped {
		t.Fatalf("unexpected skip flags %+v", record)
	}
}

func TestInsufficientBaseSkipsSell(t *testing.T) {
	ex := richExchange()
	ex.balances["BTC"] = 0.5
	h := newHarness(t, testConfig(), ex)
	if err := h.app.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	got := h.notifier.matching("Not enough")
	if len(got) != 1 || got[0] != "❗ Not enough BTC to SELL: Have 0.50, need 1.00" {
		t.Fatalf("unexpected notifications %v", got)
	}
	if len(h.ex.placed) != 1 || h.ex.placed[0].side != exchange.SideBuy {
		t.Fatalf("expected only the buy to be placed, got %+v", h.ex.placed)
	}
}

func TestClampedQuote(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.SpreadFraction = 0.2
	h := newHarness(t, cfg, richExchange())
	if err := h.app.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if h.ex.placed[0].price != 90 || h.ex.placed[1].price != 110 {
		t.Fatalf("expected clamped 90/110, got %v/%v", h.ex.placed[0].price, h.ex.placed[1].price)
	}
}

func TestFallbackPriceSkipsPriceUpdate(t *testing.T) {
	ex := richExchange()
	ex.live = false
	h := newHarness(t, testConfig(), ex)
	if err := h.app.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if got := h.notifier.matching("Price Update"); len(got) != 0 {
		t.Fatalf("expected no price update on fallback, got %v", got)
	}
	if got := counterValue(t, h.prom.Metrics.PriceFallbacks); got != 1 {
		t.Fatalf("expected one fallback, got %v", got)
	}
	if len(h.ex.placed) != 2 {
		t.Fatalf("expected quoting to continue on fallback, got %d orders", len(h.ex.placed))
	}
}

func TestPriceUpdatesCanBeDisabled(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.Strategy.NotifyPriceUpdates = &off
	h := newHarness(t, cfg, richExchange())
	if err := h.app.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(h.notifier.messages) != 0 {
		t.Fatalf("expected no notifications, got %v", h.notifier.messages)
	}
}

func TestPlacementFailureContinuesWithSell(t *testing.T) {
	ex := richExchange()
	ex.placeErr = map[exchange.Side]error{exchange.SideBuy: errors.New("http 500: boom")}
	h := newHarness(t, testConfig(), ex)
	if err := h.app.RunCycle(context.Background()); err != nil {
		t.Fatalf("placement failure must not fail the cycle: %v", err)
	}
	if len(ex.placed) != 1 || ex.placed[0].side != exchange.SideSell {
		t.Fatalf("expected sell after failed buy, got %+v", ex.placed)
	}
	if got := h.notifier.matching("BUY order failed"); len(got) != 1 {
		t.Fatalf("expected one placement failure notification, got %v", h.notifier.messages)
	}
	if got := counterValue(t, metrics.ForSide(h.prom.Metrics.OrdersFailed, "BUY")); got != 1 {
		t.Fatalf("expected one failed order, got %v", got)
	}
}

func TestPanicIsRecoveredAndNotified(t *testing.T) {
	ex := richExchange()
	ex.panicOn = "balance:BTC"
	h := newHarness(t, testConfig(), ex)
	err := h.app.RunCycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "exchange exploded") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}
	got := h.notifier.matching("❌ Bot Error")
	if len(got) != 1 {
		t.Fatalf("expected one bot error notification, got %v", h.notifier.messages)
	}
	last := h.sleeper.delays[len(h.sleeper.delays)-1]
	if last != 30*time.Second {
		t.Fatalf("expected error delay 30s, got %v", last)
	}
	if h.app.strategy.Current() != strategy.StateFetchPrice {
		t.Fatalf("expected machine back at %s, got %s", strategy.StateFetchPrice, h.app.strategy.Current())
	}
	if got := counterValue(t, h.prom.Metrics.CycleFailures); got != 1 {
		t.Fatalf("expected one cycle failure, got %v", got)
	}
	record, ok, _ := state.LoadLastCycle(context.Background(), h.store)
	if !ok || !strings.Contains(record.Error, "exchange exploded") {
		t.Fatalf("expected failed cycle journaled, got %+v", record)
	}
	if len(ex.placed) != 0 {
		t.Fatalf("expected no orders after panic, got %+v", ex.placed)
	}
	ex.panicOn = ""
	if err := h.app.RunCycle(context.Background()); err != nil {
		t.Fatalf("expected next cycle to succeed, got %v", err)
	}
	if len(ex.placed) != 2 {
		t.Fatalf("expected recovery on next cycle, got %d orders", len(ex.placed))
	}
}

func TestInvalidBoundsFailCycle(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.PriceFloor = 120
	h := newHarness(t, cfg, richExchange())
	err := h.app.RunCycle(context.Background())
	if !errors.Is(err, strategy.ErrInvalidBounds) {
		t.Fatalf("expected ErrInvalidBounds, got %v", err)
	}
	if len(h.notifier.matching("❌ Bot Error")) != 1 {
		t.Fatalf("expected bot error notification")
	}
}

func TestRemoteCallsIgnoreCancellation(t *testing.T) {
	ex := richExchange()
	h := newHarness(t, testConfig(), ex)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.app.RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(ex.calls) != 1 || ex.calls[0] != "price" {
		t.Fatalf("expected the in-flight price call only, got %v", ex.calls)
	}
	if ex.cancelledAt[0] != nil {
		t.Fatalf("expected remote context to be detached, got %v", ex.cancelledAt[0])
	}
	if len(h.notifier.matching("Bot Error")) != 0 {
		t.Fatalf("shutdown must not be reported as a bot error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ex := richExchange()
	h := newHarness(t, testConfig(), ex)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Two full cycles are six delays each; stop during the third cycle.
	h.sleeper.onSleep = func(n int) {
		if n == 14 {
			cancel()
		}
	}
	done := make(chan error, 1)
	go func() { done <- h.app.Run(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
	if got := counterValue(t, h.prom.Metrics.Cycles); got != 2 {
		t.Fatalf("expected 2 completed cycles, got %v", got)
	}
}

func TestHeartbeatDigest(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.Heartbeat = "0 * * * *"
	off := false
	cfg.Strategy.NotifyPriceUpdates = &off
	h := newHarness(t, cfg, richExchange())
	ctx := context.Background()
	if err := h.app.RunCycle(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(h.notifier.matching("💓")) != 0 {
		t.Fatalf("expected no heartbeat before the schedule fires")
	}
	*h.clock = h.clock.Add(61 * time.Minute)
	if err := h.app.RunCycle(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	got := h.notifier.matching("💓")
	if len(got) != 1 || !strings.Contains(got[0], "cycles=1") || !strings.Contains(got[0], "bid=99.000000") {
		t.Fatalf("unexpected heartbeat %v", got)
	}
	if err := h.app.RunCycle(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(h.notifier.matching("💓")) != 1 {
		t.Fatalf("expected heartbeat to wait for the next slot")
	}
	if d := h.app.Digest(); d.Cycles != 3 || d.Failures != 0 {
		t.Fatalf("unexpected digest %+v", d)
	}
}

func TestNewAppRejectsBadSymbol(t *testing.T) {
	cfg := testConfig()
	cfg.Market.Symbol = "USDT"
	if _, err := newApp(cfg, zap.NewNop(), Deps{Exchange: richExchange()}); err == nil {
		t.Fatalf("expected error for unsplittable symbol")
	}
	if _, err := newApp(testConfig(), zap.NewNop(), Deps{}); err == nil {
		t.Fatalf("expected error for missing exchange")
	}
}
