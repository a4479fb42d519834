package domain

import (
	"sort"

	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// avgPricePlaces bounds the precision of the weighted average entry price.
const avgPricePlaces = 12

// Position represents a per-symbol holding.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"` // Positive for Long, Negative for Short.
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
}

// IsLong checks if the position is Long.
func (p *Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

// IsShort checks if the position is Short.
func (p *Position) IsShort() bool {
	return p.Quantity.IsNegative()
}

// apply folds a signed quantity at price into the position.
func (p *Position) apply(signedQty, price decimal.Decimal) {
	switch {
	case p.Quantity.IsZero() || p.Quantity.Sign() == signedQty.Sign():
		// Opening or adding: weighted average.
		oldAbs := p.Quantity.Abs()
		addAbs := signedQty.Abs()
		cost := oldAbs.Mul(p.AvgEntryPrice).Add(addAbs.Mul(price))
		p.AvgEntryPrice = cost.DivRound(oldAbs.Add(addAbs), avgPricePlaces)
		p.Quantity = p.Quantity.Add(signedQty)

	default:
		// Reducing, closing or flipping.
		closing := decimal.Min(p.Quantity.Abs(), signedQty.Abs())
		pnl := price.Sub(p.AvgEntryPrice).Mul(closing)
		if p.IsShort() {
			pnl = pnl.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(pnl)
		p.Quantity = p.Quantity.Add(signedQty)

		switch {
		case p.Quantity.IsZero():
			p.AvgEntryPrice = decimal.Zero
		case p.Quantity.Sign() == signedQty.Sign():
			p.AvgEntryPrice = price
		}
	}
}

// Account is the mutable cash/position aggregate marked to the latest tick prices.
type Account struct {
	Cash          decimal.Decimal            `json:"cash"`
	Positions     map[string]*Position       `json:"positions"`
	Marks         map[string]decimal.Decimal `json:"marks"`
	PeakValue     decimal.Decimal            `json:"peak_value"`
	DayStartValue decimal.Decimal            `json:"day_start_value"`
	Day           quant.TimeStamp            `json:"day"` // start of the current UTC trading day
	DayStarted    bool                       `json:"day_started"`
}

// NewAccount creates an account funded with cash.
func NewAccount(cash decimal.Decimal) *Account {
	return &Account{
		Cash:          cash,
		Positions:     make(map[string]*Position),
		Marks:         make(map[string]decimal.Decimal),
		PeakValue:     cash,
		DayStartValue: cash,
	}
}

// PositionQty returns the signed position for symbol (zero if flat).
func (a *Account) PositionQty(symbol string) decimal.Decimal {
	if p, ok := a.Positions[symbol]; ok {
		return p.Quantity
	}
	return decimal.Zero
}

// MarkPrice returns the latest known price for symbol.
func (a *Account) MarkPrice(symbol string) (decimal.Decimal, bool) {
	p, ok := a.Marks[symbol]
	return p, ok
}

// Value is cash plus every position marked at its latest price.
// Positions without a mark yet are valued at zero.
func (a *Account) Value() decimal.Decimal {
	v := a.Cash
	for sym, p := range a.Positions {
		if mark, ok := a.Marks[sym]; ok {
			v = v.Add(p.Quantity.Mul(mark))
		}
	}
	return v
}

// Exposures returns gross (sum of |notional|) and net (signed sum) exposure.
func (a *Account) Exposures() (gross, net decimal.Decimal) {
	gross, net = decimal.Zero, decimal.Zero
	for sym, p := range a.Positions {
		mark, ok := a.Marks[sym]
		if !ok {
			continue
		}
		n := p.Quantity.Mul(mark)
		gross = gross.Add(n.Abs())
		net = net.Add(n)
	}
	return gross, net
}

// Mark records price as the latest mark for symbol. On the first tick of a new
// UTC day the day-start value is captured before the new mark is applied.
func (a *Account) Mark(symbol string, price decimal.Decimal, ts quant.TimeStamp) {
	day := ts.Day()
	if !a.DayStarted || a.Day != day {
		if a.DayStarted {
			a.DayStartValue = a.Value()
		}
		a.Day, a.DayStarted = day, true
	}
	a.Marks[symbol] = price
	a.updatePeak()
}

// ApplyFill moves cash and position for a fill. Commission is always a debit.
func (a *Account) ApplyFill(symbol string, side Side, qty, price, commission decimal.Decimal) {
	notional := qty.Mul(price)
	if side == SideBuy {
		a.Cash = a.Cash.Sub(notional)
	} else {
		a.Cash = a.Cash.Add(notional)
	}
	a.Cash = a.Cash.Sub(commission)

	p, ok := a.Positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol}
		a.Positions[symbol] = p
	}
	p.apply(qty.Mul(side.Sign()), price)

	a.updatePeak()
}

func (a *Account) updatePeak() {
	if v := a.Value(); v.GreaterThan(a.PeakValue) {
		a.PeakValue = v
	}
}

// Symbols returns the symbols with a position, sorted.
func (a *Account) Symbols() []string {
	out := make([]string, 0, len(a.Positions))
	for sym := range a.Positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy sharing no maps or pointers with a.
func (a *Account) Clone() *Account {
	c := *a
	c.Positions = make(map[string]*Position, len(a.Positions))
	for k, v := range a.Positions {
		p := *v
		c.Positions[k] = &p
	}
	c.Marks = make(map[string]decimal.Decimal, len(a.Marks))
	for k, v := range a.Marks {
		c.Marks[k] = v
	}
	return &c
}
