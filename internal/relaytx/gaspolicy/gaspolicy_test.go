package gaspolicy_test

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/gaspolicy"
)

func TestNextGasPriceUncapped(t *testing.T) {
	c := qt.New(t)
	p := gaspolicy.New(1.2, big.NewInt(100))

	next, capped := p.NextGasPrice(big.NewInt(10))
	c.Assert(capped, qt.IsFalse)
	c.Assert(next.Int64(), qt.Equals, int64(12))
}

func TestNextGasPriceExactlyAtCapIsNotCapped(t *testing.T) {
	c := qt.New(t)
	p := gaspolicy.New(1.2, big.NewInt(12))

	next, capped := p.NextGasPrice(big.NewInt(10))
	c.Assert(capped, qt.IsFalse)
	c.Assert(next.Int64(), qt.Equals, int64(12))
}

func TestNextGasPriceClampedAboveCap(t *testing.T) {
	c := qt.New(t)
	p := gaspolicy.New(1.5, big.NewInt(100))

	next, capped := p.NextGasPrice(big.NewInt(90))
	c.Assert(capped, qt.IsTrue)
	c.Assert(next.Int64(), qt.Equals, int64(100))
}

func TestNextGasPriceMonotonic(t *testing.T) {
	c := qt.New(t)
	p := gaspolicy.New(1.2, big.NewInt(1_000_000))

	old := big.NewInt(1_000)
	next, _ := p.NextGasPrice(old)
	c.Assert(next.Cmp(old) >= 0, qt.IsTrue)
}
