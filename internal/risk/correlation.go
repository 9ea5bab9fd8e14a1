package risk

import (
	"math"

	"github.com/avdimir/signalbot/internal/domain"
)

// returns derives percentage returns from a price history, keeping at most
// the last window samples.
func returns(history []domain.PricePoint, window int) []float64 {
	if len(history) < 2 {
		return nil
	}
	if len(history) > window+1 {
		history = history[len(history)-window-1:]
	}
	out := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev := history[i-1].Price
		if prev == 0 {
			continue
		}
		out = append(out, (history[i].Price-prev)/prev)
	}
	return out
}

// Correlation computes the Pearson correlation of two return series over
// their overlapping tail. Series too short to correlate yield 0, which
// callers treat as neutral.
func Correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
