package exchange

import "errors"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type Balance struct {
	Asset string
	Free  float64
}

type OpenOrder struct {
	OrderID string  `json:"order_id"`
	Side    Side    `json:"side"`
	Price   float64 `json:"price"`
}

type OrderResult struct {
	OrderID string
	Side    Side
	Price   string
	Size    string
}

// CancelReport summarizes one list-and-cancel pass. Err is set when the
// listing itself failed and no cancels were attempted.
type CancelReport struct {
	Listed    int   `json:"listed"`
	Cancelled int   `json:"cancelled"`
	Failed    int   `json:"failed"`
	Err       error `json:"-"`
}

var (
	ErrMalformedResponse = errors.New("malformed exchange response")
	ErrFieldMissing      = errors.New("expected field missing from exchange response")
	ErrExchangeRejected  = errors.New("exchange rejected request")
	ErrAssetNotFound     = errors.New("asset not found in balances")
)

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Side        Side   `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"timeInForce"`
	Quantity    any    `json:"quantity"`
	Price       string `json:"price"`
}

type cancelRequest struct {
	Symbol  string `json:"symbol"`
	OrderID any    `json:"orderId"`
}
