package execution

import (
	"fmt"

	"paper_go/internal/domain"
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// FillPolicy controls simulated fill prices, costs and liquidity.
type FillPolicy struct {
	SlippageBps        quant.Bps       `json:"slippage_bps"`
	CommissionPerShare decimal.Decimal `json:"commission_per_share"`
	CommissionFlat     decimal.Decimal `json:"commission_flat"`
	// MaxQtyPerTick caps total fill quantity per symbol per tick. Zero is unlimited.
	MaxQtyPerTick decimal.Decimal `json:"max_qty_per_tick"`
}

// Validate checks the policy bounds.
func (p FillPolicy) Validate() error {
	if p.SlippageBps < 0 || p.SlippageBps >= quant.BpsScale {
		return fmt.Errorf("slippage_bps must be in [0, %d), got %d", quant.BpsScale, p.SlippageBps)
	}
	if p.CommissionPerShare.IsNegative() || p.CommissionFlat.IsNegative() {
		return fmt.Errorf("commission must be >= 0")
	}
	if p.MaxQtyPerTick.IsNegative() {
		return fmt.Errorf("max_qty_per_tick must be >= 0")
	}
	return nil
}

// Commission is the cost charged for one fill of qty.
func (p FillPolicy) Commission(qty decimal.Decimal) decimal.Decimal {
	return p.CommissionPerShare.Mul(qty).Add(p.CommissionFlat)
}

// slipped moves price against the order side.
func (p FillPolicy) slipped(side domain.Side, price decimal.Decimal) decimal.Decimal {
	if p.SlippageBps == 0 {
		return price
	}
	adj := price.Mul(p.SlippageBps.Fraction())
	if side == domain.SideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// FillPrice decides whether an order fills at tick and at what price.
// Market orders always fill at the slipped tick price. Limit orders fill only
// when the tick is at or better than the limit, and never through it.
func (p FillPolicy) FillPrice(side domain.Side, typ domain.OrderType, tick decimal.Decimal) (decimal.Decimal, bool) {
	switch typ.Kind {
	case domain.KindMarket:
		return p.slipped(side, tick), true

	case domain.KindLimit:
		limit := typ.LimitPrice
		if side == domain.SideBuy {
			if tick.GreaterThan(limit) {
				return decimal.Zero, false
			}
			return decimal.Min(p.slipped(side, tick), limit), true
		}
		if tick.LessThan(limit) {
			return decimal.Zero, false
		}
		return decimal.Max(p.slipped(side, tick), limit), true
	}
	return decimal.Zero, false
}
