package state

import (
	"context"
	"encoding/json"
	"strings"
)

const LastCycleKey = "cycle:last"

// CycleRecord is written after every cycle. The bot never reads it back;
// it exists for operators and cmd/status.
type CycleRecord struct {
	CycleID      string  `json:"cycle_id"`
	Symbol       string  `json:"symbol"`
	StartedAtMS  int64   `json:"started_at_ms"`
	FinishedAtMS int64   `json:"finished_at_ms"`
	TargetPrice  float64 `json:"target_price"`
	MarketPrice  float64 `json:"market_price"`
	PriceLive    bool    `json:"price_live"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	BaseAsset    string  `json:"base_asset"`
	QuoteAsset   string  `json:"quote_asset"`
	BaseBalance  float64 `json:"base_balance"`
	QuoteBalance float64 `json:"quote_balance"`
	Cancelled    int     `json:"cancelled"`
	CancelFailed int     `json:"cancel_failed"`
	BuyOrderID   string  `json:"buy_order_id,omitempty"`
	SellOrderID  string  `json:"sell_order_id,omitempty"`
	BuySkipped   bool    `json:"buy_skipped"`
	SellSkipped  bool    `json:"sell_skipped"`
	Error        string  `json:"error,omitempty"`
}

func LoadLastCycle(ctx context.Context, store Store) (CycleRecord, bool, error) {
	if store == nil {
		return CycleRecord{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, LastCycleKey)
	if err != nil {
		return CycleRecord{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return CycleRecord{}, false, nil
	}
	var record CycleRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return CycleRecord{}, false, err
	}
	return record, true, nil
}

// SaveCycle stores record as the last cycle and, when the store keeps
// history, appends it and trims the log to retain entries.
func SaveCycle(ctx context.Context, store Store, record CycleRecord, retain int) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, LastCycleKey, string(payload)); err != nil {
		return err
	}
	history, ok := store.(History)
	if !ok {
		return nil
	}
	if err := history.Append(ctx, record.CycleID, record.StartedAtMS, string(payload)); err != nil {
		return err
	}
	if retain > 0 {
		return history.Prune(ctx, retain)
	}
	return nil
}

func LoadRecentCycles(ctx context.Context, store Store, limit int) ([]CycleRecord, error) {
	history, ok := store.(History)
	if !ok {
		return nil, nil
	}
	rows, err := history.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	records := make([]CycleRecord, 0, len(rows))
	for _, raw := range rows {
		var record CycleRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
