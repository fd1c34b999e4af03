package services

import (
	"github.com/ads-marketplace/deal-engine/internal/config"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FeeSchedule splits a gross release into the owner's net share and the platform fee.
type FeeSchedule struct {
	tiers []config.FeeTier
	scale int32
}

func NewFeeSchedule(tiers []config.FeeTier, scale int32) *FeeSchedule {
	return &FeeSchedule{tiers: tiers, scale: scale}
}

// Percent returns the fee percent of the first tier whose bound covers gross.
func (f *FeeSchedule) Percent(gross decimal.Decimal) decimal.Decimal {
	for _, t := range f.tiers {
		if t.UpTo == nil || gross.LessThanOrEqual(*t.UpTo) {
			return t.Percent
		}
	}
	return decimal.Zero
}

// Split rounds the net share down so net + fee always equals gross.
func (f *FeeSchedule) Split(gross decimal.Decimal) (net, fee decimal.Decimal) {
	if !gross.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	pct := f.Percent(gross)
	net = gross.Mul(hundred.Sub(pct)).Div(hundred).RoundFloor(f.scale)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return net, gross.Sub(net)
}
