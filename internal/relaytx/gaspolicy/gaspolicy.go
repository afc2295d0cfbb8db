// Package gaspolicy computes the next gas price to try when a pending
// transaction has sat unmined for too long.
package gaspolicy

import "math/big"

// Policy reprices stuck transactions by a fixed multiplicative factor,
// clamped to an absolute wei ceiling. The factor is expressed in
// fixed-point form (factorNum/factorDen) so repricing never drifts
// through float64 rounding on wei-scale values.
type Policy struct {
	factorNum   *big.Int
	factorDen   *big.Int
	maxGasPrice *big.Int
}

// New builds a Policy from a retry factor greater than 1 (e.g. 1.2) and
// an absolute wei ceiling. The factor is captured to three decimal
// places of precision, enough for any realistic configuration value.
func New(retryGasPriceFactor float64, maxGasPrice *big.Int) *Policy {
	const scale = 1000
	num := int64(retryGasPriceFactor * scale)
	return &Policy{
		factorNum:   big.NewInt(num),
		factorDen:   big.NewInt(scale),
		maxGasPrice: new(big.Int).Set(maxGasPrice),
	}
}

// NextGasPrice returns floor(old * factor), capped at maxGasPrice.
// capped reports whether the cap was applied.
func (p *Policy) NextGasPrice(old *big.Int) (next *big.Int, capped bool) {
	raw := new(big.Int).Mul(old, p.factorNum)
	raw.Quo(raw, p.factorDen) // integer division floors for non-negative operands
	if raw.Cmp(p.maxGasPrice) > 0 {
		return new(big.Int).Set(p.maxGasPrice), true
	}
	return raw, false
}
