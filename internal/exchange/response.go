package exchange

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func floatFromAny(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func orderIDFromMap(m map[string]any) string {
	for _, key := range []string{"orderId", "orderID", "order_id", "id"} {
		if id := stringFromAny(m[key]); id != "" {
			return id
		}
	}
	return ""
}

// rejection reports an error-shaped payload: a non-zero "code" field,
// optionally with "msg" or "message".
func rejection(m map[string]any) error {
	raw, ok := m["code"]
	if !ok {
		return nil
	}
	code := stringFromAny(raw)
	if code == "0" || code == "200" {
		return nil
	}
	msg := stringFromAny(m["msg"])
	if msg == "" {
		msg = stringFromAny(m["message"])
	}
	return fmt.Errorf("%w: code %s: %s", ErrExchangeRejected, code, msg)
}

func parseOpenOrders(payload any) ([]OpenOrder, error) {
	if m, ok := payload.(map[string]any); ok {
		if err := rejection(m); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: open orders is an object, not a list", ErrMalformedResponse)
	}
	list, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: open orders is %T, not a list", ErrMalformedResponse, payload)
	}
	orders := make([]OpenOrder, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			orders = append(orders, OpenOrder{})
			continue
		}
		price, _ := floatFromAny(m["price"])
		orders = append(orders, OpenOrder{
			OrderID: orderIDFromMap(m),
			Side:    Side(strings.ToUpper(stringFromAny(m["side"]))),
			Price:   price,
		})
	}
	return orders, nil
}

func parseBalances(payload map[string]any) ([]Balance, error) {
	raw, ok := payload["balances"]
	if !ok {
		if err := rejection(payload); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: balances", ErrFieldMissing)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: balances is %T", ErrMalformedResponse, raw)
	}
	balances := make([]Balance, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		asset := strings.ToUpper(stringFromAny(m["asset"]))
		if asset == "" {
			continue
		}
		free, ok := floatFromAny(m["free"])
		if !ok {
			continue
		}
		balances = append(balances, Balance{Asset: asset, Free: free})
	}
	return balances, nil
}
