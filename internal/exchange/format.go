package exchange

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

const priceDecimals = 6

// FormatPrice renders a limit price with a fixed number of fractional digits.
// The result is what gets signed and sent.
func FormatPrice(price float64) (string, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return "", fmt.Errorf("invalid price %v", price)
	}
	return decimal.NewFromFloat(price).StringFixed(priceDecimals), nil
}

func FormatSize(size float64) (string, error) {
	if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
		return "", fmt.Errorf("invalid size %v", size)
	}
	return decimal.NewFromFloat(size).String(), nil
}

// orderIDValue keeps numeric ids numeric on the wire.
func orderIDValue(id string) any {
	if _, err := strconv.ParseUint(id, 10, 64); err == nil {
		return json.Number(id)
	}
	return id
}
