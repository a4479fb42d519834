package risk

import (
	"errors"
	"fmt"

	"paper_go/internal/domain"
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// PositionLimit caps the resulting position per symbol. Zero fields are unset.
type PositionLimit struct {
	MaxShares   decimal.Decimal `json:"max_shares"`
	MaxNotional decimal.Decimal `json:"max_notional"`
}

// ExposureLimit caps gross and |net| exposure as a fraction of portfolio value. Zero fields are unset.
type ExposureLimit struct {
	MaxGross decimal.Decimal `json:"max_gross"`
	MaxNet   decimal.Decimal `json:"max_net"`
}

// DrawdownLimit caps drawdown as a fraction of the day-start value (daily) or peak value (total).
// Tripping either one flips the kill switch.
type DrawdownLimit struct {
	MaxDaily decimal.Decimal `json:"max_daily"`
	MaxTotal decimal.Decimal `json:"max_total"`
}

// Config is the immutable rule set. Nil rules are disabled.
type Config struct {
	Position    *PositionLimit `json:"position,omitempty"`
	Exposure    *ExposureLimit `json:"exposure,omitempty"`
	Drawdown    *DrawdownLimit `json:"drawdown,omitempty"`
	AllowMargin bool           `json:"allow_margin"`
}

// Validate checks that every configured limit is non-negative.
func (c Config) Validate() error {
	var errs []error
	check := func(name string, v decimal.Decimal) {
		if v.IsNegative() {
			errs = append(errs, fmt.Errorf("risk.%s must be >= 0, got %s", name, v))
		}
	}
	if c.Position != nil {
		check("position.max_shares", c.Position.MaxShares)
		check("position.max_notional", c.Position.MaxNotional)
	}
	if c.Exposure != nil {
		check("exposure.max_gross", c.Exposure.MaxGross)
		check("exposure.max_net", c.Exposure.MaxNet)
	}
	if c.Drawdown != nil {
		check("drawdown.max_daily", c.Drawdown.MaxDaily)
		check("drawdown.max_total", c.Drawdown.MaxTotal)
	}
	return errors.Join(errs...)
}

// State is the mutable part of risk, owned and updated by the engine.
type State struct {
	KillSwitch bool            `json:"kill_switch"`
	TrippedAt  quant.TimeStamp `json:"tripped_at,omitempty"`
}

// Proposal is an order as the gate sees it. Price is the reference price:
// the limit price for limit orders, the latest mark for market orders (zero if unmarked).
// An unpriced proposal that changes a position fails any configured notional or exposure limit.
type Proposal struct {
	Symbol   string
	Side     domain.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Verdict is the gate's answer plus the one state change it may request.
type Verdict struct {
	Accepted       bool
	Reason         domain.RejectReason
	Detail         string
	TripKillSwitch bool
}

func accept() Verdict { return Verdict{Accepted: true} }

func reject(reason domain.RejectReason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Apply returns st with the verdict's requested change applied.
func (v Verdict) Apply(st State, now quant.TimeStamp) State {
	if v.TripKillSwitch && !st.KillSwitch {
		st.KillSwitch = true
		st.TrippedAt = now
	}
	return st
}

// Evaluate runs the rules in fixed order and returns the first failure.
// It reads acct but never mutates it, and has no other inputs.
func Evaluate(p Proposal, acct *domain.Account, st State, cfg Config) Verdict {
	if st.KillSwitch {
		return reject(domain.ReasonKillSwitch, "kill switch tripped")
	}

	current := acct.PositionQty(p.Symbol)
	resulting := current.Add(p.Quantity.Mul(p.Side.Sign()))

	if v, ok := checkPosition(cfg.Position, resulting, p.Price); !ok {
		return v
	}

	value := acct.Value()

	if v, ok := checkExposure(cfg.Exposure, acct, p.Symbol, resulting, p.Price, value); !ok {
		return v
	}
	if v, ok := checkDrawdown(cfg.Drawdown, acct, value); !ok {
		return v
	}

	if !cfg.AllowMargin {
		if p.Side == domain.SideBuy {
			cost := p.Quantity.Mul(p.Price)
			if cost.GreaterThan(acct.Cash) {
				return reject(domain.ReasonInsufficientCash, "cost %s > cash %s", cost, acct.Cash)
			}
		} else if resulting.IsNegative() {
			return reject(domain.ReasonInsufficientPosition, "resulting position %s", resulting)
		}
	}
	return accept()
}

func checkPosition(lim *PositionLimit, resulting, price decimal.Decimal) (Verdict, bool) {
	if lim == nil {
		return Verdict{}, true
	}
	abs := resulting.Abs()
	if lim.MaxShares.IsPositive() && abs.GreaterThan(lim.MaxShares) {
		return reject(domain.ReasonPositionLimit, "position %s > max shares %s", abs, lim.MaxShares), false
	}
	if lim.MaxNotional.IsPositive() {
		if !price.IsPositive() && !abs.IsZero() {
			return reject(domain.ReasonPositionLimit, "no reference price for notional limit"), false
		}
		notional := abs.Mul(price)
		if notional.GreaterThan(lim.MaxNotional) {
			return reject(domain.ReasonPositionLimit, "notional %s > max %s", notional, lim.MaxNotional), false
		}
	}
	return Verdict{}, true
}

func checkExposure(lim *ExposureLimit, acct *domain.Account, symbol string, resulting, price, value decimal.Decimal) (Verdict, bool) {
	if lim == nil {
		return Verdict{}, true
	}
	if !price.IsPositive() && !resulting.IsZero() && (lim.MaxGross.IsPositive() || lim.MaxNet.IsPositive()) {
		return reject(domain.ReasonExposureLimit, "no reference price for exposure limit"), false
	}
	gross, net := acct.Exposures()
	if mark, ok := acct.MarkPrice(symbol); ok {
		old := acct.PositionQty(symbol).Mul(mark)
		gross = gross.Sub(old.Abs())
		net = net.Sub(old)
	}
	n := resulting.Mul(price)
	gross = gross.Add(n.Abs())
	net = net.Add(n).Abs()

	if !value.IsPositive() {
		if gross.IsPositive() {
			return reject(domain.ReasonExposureLimit, "exposure %s with non-positive value %s", gross, value), false
		}
		return Verdict{}, true
	}
	if lim.MaxGross.IsPositive() {
		if ratio := gross.Div(value); ratio.GreaterThan(lim.MaxGross) {
			return reject(domain.ReasonExposureLimit, "gross ratio %s > %s", ratio.StringFixed(4), lim.MaxGross), false
		}
	}
	if lim.MaxNet.IsPositive() {
		if ratio := net.Div(value); ratio.GreaterThan(lim.MaxNet) {
			return reject(domain.ReasonExposureLimit, "net ratio %s > %s", ratio.StringFixed(4), lim.MaxNet), false
		}
	}
	return Verdict{}, true
}

func checkDrawdown(lim *DrawdownLimit, acct *domain.Account, value decimal.Decimal) (Verdict, bool) {
	if lim == nil {
		return Verdict{}, true
	}
	if lim.MaxTotal.IsPositive() && acct.PeakValue.IsPositive() {
		dd := acct.PeakValue.Sub(value).Div(acct.PeakValue)
		if dd.GreaterThan(lim.MaxTotal) {
			v := reject(domain.ReasonDrawdownLimit, "total drawdown %s > %s", dd.StringFixed(4), lim.MaxTotal)
			v.TripKillSwitch = true
			return v, false
		}
	}
	if lim.MaxDaily.IsPositive() && acct.DayStartValue.IsPositive() {
		dd := acct.DayStartValue.Sub(value).Div(acct.DayStartValue)
		if dd.GreaterThan(lim.MaxDaily) {
			v := reject(domain.ReasonDrawdownLimit, "daily drawdown %s > %s", dd.StringFixed(4), lim.MaxDaily)
			v.TripKillSwitch = true
			return v, false
		}
	}
	return Verdict{}, true
}
