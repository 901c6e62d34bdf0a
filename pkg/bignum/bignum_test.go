package bignum

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumProducts(t *testing.T) {
	t.Run("sums elementwise products", func(t *testing.T) {
		units := []*big.Int{big.NewInt(21000), big.NewInt(50000)}
		prices := []*big.Int{big.NewInt(2), big.NewInt(3)}
		got := SumProducts(units, prices)
		assert.Equal(t, big.NewInt(21000*2+50000*3), got)
	})

	t.Run("skips nil factors instead of panicking", func(t *testing.T) {
		units := []*big.Int{big.NewInt(21000), nil, big.NewInt(1000)}
		prices := []*big.Int{big.NewInt(2), big.NewInt(5), nil}
		got := SumProducts(units, prices)
		assert.Equal(t, big.NewInt(42000), got)
	})

	t.Run("uses the shorter of mismatched slice lengths", func(t *testing.T) {
		units := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
		prices := []*big.Int{big.NewInt(10)}
		got := SumProducts(units, prices)
		assert.Equal(t, big.NewInt(10), got)
	})

	t.Run("empty input sums to zero", func(t *testing.T) {
		got := SumProducts(nil, nil)
		assert.Equal(t, big.NewInt(0), got)
	})
}

func TestDivFloat64(t *testing.T) {
	t.Run("divides exactly", func(t *testing.T) {
		got := DivFloat64(big.NewInt(1_000_000_000), 1e9)
		assert.InDelta(t, 1.0, got, 1e-9)
	})

	t.Run("fractional result", func(t *testing.T) {
		got := DivFloat64(big.NewInt(5), 2)
		assert.InDelta(t, 2.5, got, 1e-9)
	})
}
