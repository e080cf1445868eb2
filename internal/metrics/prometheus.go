package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "mmbot"

type Prometheus struct {
	Metrics *Metrics

	registry          *prometheus.Registry
	cycles            prometheus.Counter
	cycleFailures     prometheus.Counter
	ordersPlaced      *prometheus.CounterVec
	ordersFailed      *prometheus.CounterVec
	ordersCancelled   prometheus.Counter
	cancelFailed      prometheus.Counter
	insufficientFunds *prometheus.CounterVec
	priceFallbacks    prometheus.Counter
	marketPrice       prometheus.Gauge
	quotePrice        *prometheus.GaugeVec
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: promNamespace, Name: name, Help: help})
}

func sideCounter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: promNamespace, Name: name, Help: help}, []string{"side"})
}

// sideCounters adapts a side-labelled vector to one Counter per side.
type sideCounters struct {
	vec *prometheus.CounterVec
}

func (s sideCounters) Inc() {
	s.vec.WithLabelValues("any").Inc()
}

func (s sideCounters) Side(side string) Counter {
	return s.vec.WithLabelValues(side)
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:          registry,
		cycles:            counter("cycles_total", "Total number of completed rebalance cycles."),
		cycleFailures:     counter("cycle_failures_total", "Total number of cycles aborted by an error or panic."),
		ordersPlaced:      sideCounter("orders_placed_total", "Total number of limit orders accepted by the exchange."),
		ordersFailed:      sideCounter("orders_failed_total", "Total number of limit order placement failures."),
		ordersCancelled:   counter("orders_cancelled_total", "Total number of resting orders cancelled."),
		cancelFailed:      counter("cancel_failed_total", "Total number of failed order cancels."),
		insufficientFunds: sideCounter("insufficient_funds_total", "Total number of sides skipped for insufficient balance."),
		priceFallbacks:    counter("price_fallbacks_total", "Total number of cycles quoting on the fallback price."),
		marketPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "market_price",
			Help:      "Last market price observed.",
		}),
		quotePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "quote_price",
			Help:      "Last quoted price per side.",
		}, []string{"side"}),
	}
	registry.MustRegister(
		p.cycles,
		p.cycleFailures,
		p.ordersPlaced,
		p.ordersFailed,
		p.ordersCancelled,
		p.cancelFailed,
		p.insufficientFunds,
		p.priceFallbacks,
		p.marketPrice,
		p.quotePrice,
	)
	p.Metrics = &Metrics{
		Cycles:            p.cycles,
		CycleFailures:     p.cycleFailures,
		OrdersPlaced:      sideCounters{p.ordersPlaced},
		OrdersFailed:      sideCounters{p.ordersFailed},
		OrdersCancelled:   p.ordersCancelled,
		CancelFailed:      p.cancelFailed,
		InsufficientFunds: sideCounters{p.insufficientFunds},
		PriceFallbacks:    p.priceFallbacks,
		MarketPrice:       p.marketPrice,
		BidPrice:          p.quotePrice.WithLabelValues("bid"),
		AskPrice:          p.quotePrice.WithLabelValues("ask"),
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ForSide returns the per-side child of a side-labelled counter, or c itself
// when it carries no side label.
func ForSide(c Counter, side string) Counter {
	if s, ok := c.(interface{ Side(string) Counter }); ok {
		return s.Side(side)
	}
	return c
}
