package strategy

import (
	"fmt"
	"strings"

	"mmbot/internal/config"
)

// SplitSymbol returns the base and quote assets of the market. Explicit assets
// win; otherwise the quote is the last config.DefaultQuoteLen characters.
func SplitSymbol(m config.MarketConfig) (base, quote string, err error) {
	symbol := strings.ToUpper(strings.TrimSpace(m.Symbol))
	base = strings.ToUpper(strings.TrimSpace(m.BaseAsset))
	quote = strings.ToUpper(strings.TrimSpace(m.QuoteAsset))
	switch {
	case base != "" && quote != "":
	case quote != "":
		if !strings.HasSuffix(symbol, quote) || len(symbol) == len(quote) {
			return "", "", fmt.Errorf("symbol %s does not end with quote asset %s", symbol, quote)
		}
		base = strings.TrimSuffix(symbol, quote)
	case base != "":
		if !strings.HasPrefix(symbol, base) || len(symbol) == len(base) {
			return "", "", fmt.Errorf("symbol %s does not start with base asset %s", symbol, base)
		}
		quote = strings.TrimPrefix(symbol, base)
	default:
		if len(symbol) <= config.DefaultQuoteLen {
			return "", "", fmt.Errorf("symbol %s too short to split", symbol)
		}
		base = symbol[:len(symbol)-config.DefaultQuoteLen]
		quote = symbol[len(symbol)-config.DefaultQuoteLen:]
	}
	if base+quote != symbol {
		return "", "", fmt.Errorf("assets %s/%s do not form symbol %s", base, quote, symbol)
	}
	return base, quote, nil
}
