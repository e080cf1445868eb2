package app

import (
	"context"
	"time"

	"mmbot/internal/exchange"
	"mmbot/internal/state"
	"mmbot/internal/timescale"

	"go.uber.org/zap"
)

const journalTimeout = 2 * time.Second

// finishCycle updates the digest and writes the cycle to the journal and
// the timescale sink. Neither is ever read back by the bot.
func (a *App) finishCycle(c *cycle, cycleErr error) {
	finished := a.now()
	r := &c.record
	r.FinishedAtMS = finished.UnixMilli()
	r.MarketPrice = c.snap.MarketPrice
	r.PriceLive = c.snap.PriceLive
	r.Bid = c.snap.Quote.Bid
	r.Ask = c.snap.Quote.Ask
	r.BaseBalance = c.snap.BaseBalance
	r.QuoteBalance = c.snap.QuoteBalance
	r.Cancelled = c.snap.Cancelled
	r.CancelFailed = c.snap.CancelFailed
	if cycleErr != nil {
		r.Error = cycleErr.Error()
	} else {
		a.metrics.Cycles.Inc()
	}

	a.mu.Lock()
	if cycleErr != nil {
		a.stats.Failures++
	} else {
		a.stats.Cycles++
	}
	if c.snap.MarketPrice > 0 {
		a.stats.LastPrice = c.snap.MarketPrice
	}
	if c.snap.Quote.Bid > 0 {
		a.stats.LastBid = c.snap.Quote.Bid
		a.stats.LastAsk = c.snap.Quote.Ask
	}
	a.stats.LastCycleAt = finished
	a.mu.Unlock()

	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := state.SaveCycle(ctx, a.store, *r, a.cfg.State.Retain); err != nil {
			c.log.Warn("cycle journal write failed", zap.Error(err))
		}
		cancel()
	}
	if c.snap.Quote.Bid > 0 {
		a.timescale.EnqueueQuote(timescale.QuoteSnapshot{
			Time:         finished.UTC(),
			CycleID:      c.id,
			Symbol:       c.snap.Symbol,
			TargetPrice:  c.snap.TargetPrice,
			MarketPrice:  c.snap.MarketPrice,
			PriceLive:    c.snap.PriceLive,
			Bid:          c.snap.Quote.Bid,
			Ask:          c.snap.Quote.Ask,
			BaseBalance:  c.snap.BaseBalance,
			QuoteBalance: c.snap.QuoteBalance,
			Cancelled:    c.snap.Cancelled,
			CancelFailed: c.snap.CancelFailed,
		})
	}
}

func (a *App) recordOrder(c *cycle, side exchange.Side, outcome, orderID string, price, size float64, detail string) {
	a.timescale.EnqueueOrder(timescale.OrderEvent{
		Time:    a.now().UTC(),
		CycleID: c.id,
		Symbol:  c.snap.Symbol,
		Side:    string(side),
		Outcome: outcome,
		OrderID: orderID,
		Price:   price,
		Size:    size,
		Detail:  detail,
	})
}
