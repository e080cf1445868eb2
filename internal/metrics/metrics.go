package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	Cycles            Counter
	CycleFailures     Counter
	OrdersPlaced      Counter
	OrdersFailed      Counter
	OrdersCancelled   Counter
	CancelFailed      Counter
	InsufficientFunds Counter
	PriceFallbacks    Counter

	MarketPrice Gauge
	BidPrice    Gauge
	AskPrice    Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Cycles:            n,
		CycleFailures:     n,
		OrdersPlaced:      n,
		OrdersFailed:      n,
		OrdersCancelled:   n,
		CancelFailed:      n,
		InsufficientFunds: n,
		PriceFallbacks:    n,
		MarketPrice:       g,
		BidPrice:          g,
		AskPrice:          g,
	}
}
