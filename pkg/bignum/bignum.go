// Package bignum holds small arbitrary-precision helpers used by the
// breaker package's runway estimate, mirroring the teacher's pkg/util leaf
// utility split for calculations that must not lose precision to float64.
package bignum

import "math/big"

// SumProducts returns the sum of units[i]*prices[i] as an exact big.Int,
// skipping any pair with a nil factor. Used to total gasUnits*gasPriceGwei
// across a sponsorship sample set without intermediate float64 rounding.
func SumProducts(units, prices []*big.Int) *big.Int {
	total := new(big.Int)
	n := len(units)
	if len(prices) < n {
		n = len(prices)
	}
	for i := 0; i < n; i++ {
		if units[i] == nil || prices[i] == nil {
			continue
		}
		total.Add(total, new(big.Int).Mul(units[i], prices[i]))
	}
	return total
}

// DivFloat64 divides an exact big.Int by a float64 divisor, returning a
// float64 result. Used to convert a Gwei-denominated integer total into
// native-unit burn figures (divide by 1e9) without overflowing int64.
func DivFloat64(numerator *big.Int, divisor float64) float64 {
	f := new(big.Float).SetInt(numerator)
	f.Quo(f, big.NewFloat(divisor))
	result, _ := f.Float64()
	return result
}
