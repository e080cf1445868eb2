package strategy

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidBounds = errors.New("invalid quote bounds")

// ComputeQuote places a bid and an ask at target -/+ target*spread, clamped to
// [floor, ceil].
func ComputeQuote(target, spread, floor, ceil float64) (Quote, error) {
	for _, v := range []float64{target, spread, floor, ceil} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Quote{}, fmt.Errorf("%w: non-finite input", ErrInvalidBounds)
		}
	}
	if floor > ceil {
		return Quote{}, fmt.Errorf("%w: floor %v above ceil %v", ErrInvalidBounds, floor, ceil)
	}
	if spread < 0 || spread >= 1 {
		return Quote{}, fmt.Errorf("%w: spread fraction %v outside [0,1)", ErrInvalidBounds, spread)
	}
	if target <= 0 {
		return Quote{}, fmt.Errorf("%w: target %v must be positive", ErrInvalidBounds, target)
	}
	offset := target * spread
	bid := math.Max(target-offset, floor)
	ask := math.Min(target+offset, ceil)
	// A target outside the band clamps both sides to the same edge.
	if bid > ceil {
		bid = ceil
	}
	if ask < floor {
		ask = floor
	}
	return Quote{Bid: bid, Ask: ask}, nil
}
