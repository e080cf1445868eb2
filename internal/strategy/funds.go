package strategy

// RequiredQuote is the quote-asset amount a BUY of size at bid consumes.
func RequiredQuote(bid, size float64) float64 {
	return bid * size
}

// RequiredBase is the base-asset amount a SELL of size consumes.
func RequiredBase(size float64) float64 {
	return size
}

func CanBuy(quoteBalance float64, q Quote, size float64) bool {
	return quoteBalance >= RequiredQuote(q.Bid, size)
}

func CanSell(baseBalance, size float64) bool {
	return baseBalance >= RequiredBase(size)
}
