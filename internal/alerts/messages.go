package alerts

import (
	"fmt"
	"strconv"
	"time"
)

func PriceUpdate(symbol string, price float64) string {
	return fmt.Sprintf("📊 *%s Price Update:* `%s`", symbol, strconv.FormatFloat(price, 'f', -1, 64))
}

// InsufficientFunds reports a side skipped for lack of asset.
func InsufficientFunds(asset, side string, have, need float64) string {
	return fmt.Sprintf("❗ Not enough %s to %s: Have %.2f, need %.2f", asset, side, have, need)
}

func OrderFailed(side string, price float64, err error) string {
	return fmt.Sprintf("⚠️ %s order failed at %.6f: %v", side, price, err)
}

func BotError(err error) string {
	return fmt.Sprintf("❌ Bot Error: %v", err)
}

type Digest struct {
	Symbol      string
	Cycles      int64
	Failures    int64
	LastPrice   float64
	LastBid     float64
	LastAsk     float64
	LastCycleAt time.Time
}

func Heartbeat(d Digest) string {
	last := "never"
	if !d.LastCycleAt.IsZero() {
		last = d.LastCycleAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("💓 *%s* cycles=%d failures=%d market=%.6f bid=%.6f ask=%.6f last=%s",
		d.Symbol, d.Cycles, d.Failures, d.LastPrice, d.LastBid, d.LastAsk, last)
}
