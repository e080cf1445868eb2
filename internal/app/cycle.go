package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"mmbot/internal/alerts"
	"mmbot/internal/exchange"
	"mmbot/internal/metrics"
	"mmbot/internal/state"
	"mmbot/internal/strategy"
	"mmbot/internal/timescale"

	"go.uber.org/zap"
)

// cycle carries what one pass through the phases has observed so far.
type cycle struct {
	id     string
	log    *zap.Logger
	snap   strategy.CycleSnapshot
	record state.CycleRecord
}

// RunCycle executes a single cycle and handles anything that escapes it.
// A failure is logged and notified, then followed by the error delay.
func (a *App) RunCycle(ctx context.Context) (err error) {
	c := a.newCycle()
	a.strategy.Reset()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil {
			return
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			c.log.Info("cycle interrupted by shutdown", zap.String("state", string(a.strategy.Current())))
			return
		}
		a.failCycle(ctx, c, err)
	}()
	err = a.runPhases(ctx, c)
	if err == nil {
		a.finishCycle(c, nil)
	}
	return err
}

func (a *App) newCycle() *cycle {
	id := a.newID()
	started := a.now()
	c := &cycle{
		id:  id,
		log: a.log.With(zap.String("cycle_id", id)),
		snap: strategy.CycleSnapshot{
			Symbol:      a.cfg.Market.Symbol,
			TargetPrice: a.cfg.Strategy.TargetPrice,
			BaseAsset:   a.baseAsset,
			QuoteAsset:  a.quoteAsset,
		},
	}
	c.record = state.CycleRecord{
		CycleID:     id,
		Symbol:      a.cfg.Market.Symbol,
		StartedAtMS: started.UnixMilli(),
		TargetPrice: a.cfg.Strategy.TargetPrice,
		BaseAsset:   a.baseAsset,
		QuoteAsset:  a.quoteAsset,
	}
	return c
}

// runPhases walks FETCH_PRICE through SLEEP once. Remote calls run detached
// from ctx cancellation so shutdown only lands on a delay.
func (a *App) runPhases(ctx context.Context, c *cycle) error {
	remote := context.WithoutCancel(ctx)
	a.maybeHeartbeat(remote)
	for {
		current := a.strategy.Current()
		var err error
		switch current {
		case strategy.StateFetchPrice:
			err = a.fetchPrice(ctx, remote, c)
		case strategy.StateCancelOpenOrders:
			err = a.cancelOpenOrders(ctx, remote, c)
		case strategy.StateFetchBalances:
			err = a.fetchBalances(ctx, remote, c)
		case strategy.StateEvaluateBuy:
			err = a.evaluateBuy(ctx, remote, c)
		case strategy.StateEvaluateSell:
			err = a.evaluateSell(remote, c)
		case strategy.StateSleep:
			if err := a.sleeper.Sleep(ctx, a.cfg.Strategy.StepDelay); err != nil {
				return err
			}
			a.strategy.Apply(strategy.EventStepDone)
			return nil
		default:
			err = fmt.Errorf("unknown cycle state %q", current)
		}
		if err != nil {
			a.strategy.Apply(strategy.EventFailed)
			return fmt.Errorf("%s: %w", current, err)
		}
		a.strategy.Apply(strategy.EventStepDone)
	}
}

func (a *App) stepDelay(ctx context.Context) error {
	return a.sleeper.Sleep(ctx, a.cfg.Strategy.StepDelay)
}

func (a *App) fetchPrice(ctx, remote context.Context, c *cycle) error {
	s := a.cfg.Strategy
	price, live := a.exchange.FetchPrice(remote, s.TargetPrice)
	c.snap.MarketPrice = price
	c.snap.PriceLive = live
	a.metrics.MarketPrice.Set(price)
	if live {
		if s.NotifyPriceUpdatesValue() {
			a.notifier.Notify(remote, alerts.PriceUpdate(a.cfg.Market.Symbol, price))
		}
	} else {
		a.metrics.PriceFallbacks.Inc()
	}
	if err := a.stepDelay(ctx); err != nil {
		return err
	}
	q, err := strategy.ComputeQuote(s.TargetPrice, s.SpreadFraction, s.PriceFloor, s.PriceCeil)
	if err != nil {
		return err
	}
	c.snap.Quote = q
	a.metrics.BidPrice.Set(q.Bid)
	a.metrics.AskPrice.Set(q.Ask)
	c.log.Info(fmt.Sprintf("Target: %v | Bid: %.6f | Ask: %.6f | Market: %.6f", s.TargetPrice, q.Bid, q.Ask, price),
		zap.Bool("price_live", live),
	)
	return nil
}

func (a *App) cancelOpenOrders(ctx, remote context.Context, c *cycle) error {
	report := a.exchange.CancelAllOpenOrders(remote)
	c.snap.Cancelled = report.Cancelled
	c.snap.CancelFailed = report.Failed
	for i := 0; i < report.Cancelled; i++ {
		a.metrics.OrdersCancelled.Inc()
	}
	for i := 0; i < report.Failed; i++ {
		a.metrics.CancelFailed.Inc()
	}
	if report.Err != nil {
		a.metrics.CancelFailed.Inc()
	}
	return a.stepDelay(ctx)
}

func (a *App) fetchBalances(ctx, remote context.Context, c *cycle) error {
	c.snap.BaseBalance = a.exchange.FetchBalance(remote, a.baseAsset)
	if err := a.stepDelay(ctx); err != nil {
		return err
	}
	c.snap.QuoteBalance = a.exchange.FetchBalance(remote, a.quoteAsset)
	c.log.Debug("balances",
		zap.String("base", a.baseAsset),
		zap.Float64("base_balance", c.snap.BaseBalance),
		zap.String("quote", a.quoteAsset),
		zap.Float64("quote_balance", c.snap.QuoteBalance),
	)
	return a.stepDelay(ctx)
}

func (a *App) evaluateBuy(ctx, remote context.Context, c *cycle) error {
	size := a.cfg.Strategy.OrderSize
	q := c.snap.Quote
	if strategy.CanBuy(c.snap.QuoteBalance, q, size) {
		c.record.BuyOrderID = a.place(remote, c, exchange.SideBuy, q.Bid, size)
	} else {
		c.record.BuySkipped = true
		a.insufficient(remote, c, exchange.SideBuy, a.quoteAsset, c.snap.QuoteBalance, strategy.RequiredQuote(q.Bid, size), q.Bid)
	}
	return a.stepDelay(ctx)
}

func (a *App) evaluateSell(remote context.Context, c *cycle) error {
	size := a.cfg.Strategy.OrderSize
	q := c.snap.Quote
	if strategy.CanSell(c.snap.BaseBalance, size) {
		c.record.SellOrderID = a.place(remote, c, exchange.SideSell, q.Ask, size)
	} else {
		c.record.SellSkipped = true
		a.insufficient(remote, c, exchange.SideSell, a.baseAsset, c.snap.BaseBalance, strategy.RequiredBase(size), q.Ask)
	}
	return nil
}

// place submits one side. A failed placement is logged and notified; the
// cycle carries on with the other side.
func (a *App) place(ctx context.Context, c *cycle, side exchange.Side, price, size float64) string {
	result, err := a.exchange.PlaceOrder(ctx, side, price, size)
	if err != nil {
		metrics.ForSide(a.metrics.OrdersFailed, string(side)).Inc()
		c.log.Warn("order placement failed",
			zap.String("side", string(side)),
			zap.Float64("price", price),
			zap.Float64("size", size),
			zap.Error(err),
		)
		a.notifier.Notify(ctx, alerts.OrderFailed(string(side), price, err))
		a.recordOrder(c, side, timescale.OutcomeFailed, "", price, size, err.Error())
		return ""
	}
	metrics.ForSide(a.metrics.OrdersPlaced, string(side)).Inc()
	c.log.Info("placed order",
		zap.String("side", string(side)),
		zap.String("order_id", result.OrderID),
		zap.String("price", result.Price),
		zap.String("size", result.Size),
	)
	a.recordOrder(c, side, timescale.OutcomePlaced, result.OrderID, price, size, "")
	return result.OrderID
}

func (a *App) insufficient(ctx context.Context, c *cycle, side exchange.Side, asset string, have, need, price float64) {
	metrics.ForSide(a.metrics.InsufficientFunds, string(side)).Inc()
	msg := alerts.InsufficientFunds(asset, string(side), have, need)
	c.log.Warn(msg, zap.String("side", string(side)))
	a.notifier.Notify(ctx, msg)
	a.recordOrder(c, side, timescale.OutcomeSkipped, "", price, a.cfg.Strategy.OrderSize, msg)
}

// failCycle reports an error that aborted the cycle, then waits the error
// delay before the next one.
func (a *App) failCycle(ctx context.Context, c *cycle, err error) {
	a.metrics.CycleFailures.Inc()
	c.log.Error("cycle failed", zap.Error(err))
	a.notifier.Notify(context.WithoutCancel(ctx), alerts.BotError(err))
	a.finishCycle(c, err)
	if a.strategy.Current() != strategy.StateSleep {
		a.strategy.Apply(strategy.EventFailed)
	}
	if sleepErr := a.sleeper.Sleep(ctx, a.cfg.Strategy.ErrorDelay); sleepErr != nil {
		return
	}
	a.strategy.Apply(strategy.EventStepDone)
}
