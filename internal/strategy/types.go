package strategy

// State is a phase of one rebalance cycle.
type State string

type Event string

const (
	StateFetchPrice       State = "FETCH_PRICE"
	StateCancelOpenOrders State = "CANCEL_OPEN_ORDERS"
	StateFetchBalances    State = "FETCH_BALANCES"
	StateEvaluateBuy      State = "EVALUATE_BUY"
	StateEvaluateSell     State = "EVALUATE_SELL"
	StateSleep            State = "SLEEP"
)

const (
	EventStepDone Event = "STEP_DONE"
	EventFailed   Event = "FAILED"
)

// Quote is a resting bid and ask pair for one cycle.
type Quote struct {
	Bid float64
	Ask float64
}

// CycleSnapshot is what a cycle observed and decided, for logs and journals.
type CycleSnapshot struct {
	Symbol       string
	TargetPrice  float64
	MarketPrice  float64
	PriceLive    bool
	Quote        Quote
	BaseAsset    string
	QuoteAsset   string
	BaseBalance  float64
	QuoteBalance float64
	Cancelled    int
	CancelFailed int
}
