package risk

import (
	"testing"

	"paper_go/internal/domain"
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var dec = quant.MustDecimal

func buy(qty, price string) Proposal {
	return Proposal{Symbol: "X", Side: domain.SideBuy, Quantity: dec(qty), Price: dec(price)}
}

func sell(qty, price string) Proposal {
	return Proposal{Symbol: "X", Side: domain.SideSell, Quantity: dec(qty), Price: dec(price)}
}

// fundedAccount holds 100 X marked at 100 plus 90,000 cash (value 100,000).
func fundedAccount() *domain.Account {
	a := domain.NewAccount(dec("100000"))
	a.ApplyFill("X", domain.SideBuy, dec("100"), dec("100"), decimal.Zero)
	a.Mark("X", dec("100"), 1)
	return a
}

func TestEvaluate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		p      Proposal
		st     State
		cfg    Config
		want   domain.RejectReason
		accept bool
	}{
		{
			name:   "NoRules",
			p:      buy("10", "100"),
			accept: true,
		},
		{
			name: "KillSwitch",
			p:    buy("1", "100"),
			st:   State{KillSwitch: true},
			want: domain.ReasonKillSwitch,
		},
		{
			name: "MaxShares",
			p:    buy("51", "100"),
			cfg:  Config{Position: &PositionLimit{MaxShares: dec("150")}},
			want: domain.ReasonPositionLimit,
		},
		{
			name:   "MaxSharesAtLimit",
			p:      buy("50", "100"),
			cfg:    Config{Position: &PositionLimit{MaxShares: dec("150")}},
			accept: true,
		},
		{
			name: "MaxNotional",
			p:    buy("10", "100"),
			cfg:  Config{Position: &PositionLimit{MaxNotional: dec("10000")}},
			want: domain.ReasonPositionLimit,
		},
		{
			name: "GrossExposure",
			p:    buy("100", "100"),
			cfg:  Config{Exposure: &ExposureLimit{MaxGross: dec("0.15")}},
			want: domain.ReasonExposureLimit,
		},
		{
			name:   "ReducingExposureAccepted",
			p:      sell("50", "100"),
			cfg:    Config{Exposure: &ExposureLimit{MaxGross: dec("0.15")}},
			accept: true,
		},
		{
			name: "InsufficientCash",
			p:    buy("901", "100"),
			want: domain.ReasonInsufficientCash,
		},
		{
			name:   "MarginAllowsOverspend",
			p:      buy("901", "100"),
			cfg:    Config{AllowMargin: true},
			accept: true,
		},
		{
			name: "InsufficientPosition",
			p:    sell("101", "100"),
			want: domain.ReasonInsufficientPosition,
		},
		{
			name: "KillSwitchBeforePosition",
			p:    buy("1000", "100"),
			st:   State{KillSwitch: true},
			cfg:  Config{Position: &PositionLimit{MaxShares: dec("1")}},
			want: domain.ReasonKillSwitch,
		},
		{
			name: "UnpricedFailsNotional",
			p:    buy("10", "0"),
			cfg:  Config{Position: &PositionLimit{MaxNotional: dec("1000000")}},
			want: domain.ReasonPositionLimit,
		},
		{
			name:   "UnpricedPassesShareLimit",
			p:      buy("10", "0"),
			cfg:    Config{Position: &PositionLimit{MaxShares: dec("150")}},
			accept: true,
		},
		{
			name: "UnpricedFailsExposure",
			p:    buy("10", "0"),
			cfg:  Config{Exposure: &ExposureLimit{MaxNet: dec("10")}},
			want: domain.ReasonExposureLimit,
		},
		{
			name: "PositionBeforeExposure",
			p:    buy("1000", "100"),
			cfg: Config{
				Position: &PositionLimit{MaxShares: dec("1")},
				Exposure: &ExposureLimit{MaxGross: dec("0.01")},
			},
			want: domain.ReasonPositionLimit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.p, fundedAccount(), tt.st, tt.cfg)
			if tt.accept {
				assert.True(t, v.Accepted, "rejected: %s %s", v.Reason, v.Detail)
				return
			}
			assert.False(t, v.Accepted)
			assert.Equal(t, tt.want, v.Reason, v.Detail)
		})
	}
}

func TestEvaluate_DrawdownTripsKillSwitch(t *testing.T) {
	a := domain.NewAccount(dec("100000"))
	a.ApplyFill("X", domain.SideBuy, dec("1000"), dec("100"), decimal.Zero)
	a.Mark("X", dec("100"), 1)
	require.True(t, a.PeakValue.Equal(dec("100000")))

	cfg := Config{Drawdown: &DrawdownLimit{MaxTotal: dec("0.20")}, AllowMargin: true}
	var st State

	a.Mark("X", dec("79"), 2) // value 79,000: 21% below peak
	v := Evaluate(buy("1", "79"), a, st, cfg)
	require.False(t, v.Accepted)
	assert.Equal(t, domain.ReasonDrawdownLimit, v.Reason)
	assert.True(t, v.TripKillSwitch)

	st = v.Apply(st, 2)
	assert.True(t, st.KillSwitch)
	assert.Equal(t, quant.TimeStamp(2), st.TrippedAt)

	// Recovery does not clear the switch.
	a.Mark("X", dec("120"), 3)
	v = Evaluate(buy("1", "120"), a, st, cfg)
	assert.Equal(t, domain.ReasonKillSwitch, v.Reason)

	st.KillSwitch = false
	assert.True(t, Evaluate(buy("1", "120"), a, st, cfg).Accepted)
}

func TestEvaluate_DailyDrawdown(t *testing.T) {
	a := domain.NewAccount(dec("1000"))
	a.ApplyFill("X", domain.SideBuy, dec("10"), dec("100"), decimal.Zero)
	a.Mark("X", dec("100"), 1)
	a.Mark("X", dec("94"), 2) // 6% down on the day

	cfg := Config{Drawdown: &DrawdownLimit{MaxDaily: dec("0.05")}, AllowMargin: true}
	v := Evaluate(buy("1", "94"), a, State{}, cfg)
	assert.Equal(t, domain.ReasonDrawdownLimit, v.Reason)
	assert.True(t, v.TripKillSwitch)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Drawdown: &DrawdownLimit{MaxTotal: dec("0.2")}}.Validate())
	assert.Error(t, Config{Position: &PositionLimit{MaxShares: dec("-1")}}.Validate())
	assert.Error(t, Config{Exposure: &ExposureLimit{MaxNet: dec("-0.5")}}.Validate())
}

func drawDecimal(t *rapid.T, label string, lo, hi int64) decimal.Decimal {
	return decimal.New(rapid.Int64Range(lo, hi).Draw(t, label), -2)
}

func drawLimit(t *rapid.T, label string) decimal.Decimal {
	if rapid.Bool().Draw(t, label+"-set") {
		return drawDecimal(t, label, 1, 500_00)
	}
	return decimal.Zero
}

// The gate is referentially transparent: same inputs, same verdict, and the account is untouched.
func TestEvaluate_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		acct := domain.NewAccount(drawDecimal(t, "cash", 0, 10_000_000))
		for i, sym := range []string{"X", "Y"} {
			qty := drawDecimal(t, sym+"-qty", -500_00, 500_00)
			if qty.IsZero() {
				continue
			}
			side := domain.SideBuy
			if qty.IsNegative() {
				side = domain.SideSell
			}
			acct.ApplyFill(sym, side, qty.Abs(), drawDecimal(t, sym+"-entry", 1, 100_00), decimal.Zero)
			acct.Mark(sym, drawDecimal(t, sym+"-mark", 1, 100_00), quant.TimeStamp(i+1))
		}

		cfg := Config{AllowMargin: rapid.Bool().Draw(t, "margin")}
		if rapid.Bool().Draw(t, "position") {
			cfg.Position = &PositionLimit{MaxShares: drawLimit(t, "maxShares"), MaxNotional: drawLimit(t, "maxNotional")}
		}
		if rapid.Bool().Draw(t, "exposure") {
			cfg.Exposure = &ExposureLimit{MaxGross: drawLimit(t, "maxGross"), MaxNet: drawLimit(t, "maxNet")}
		}
		if rapid.Bool().Draw(t, "drawdown") {
			cfg.Drawdown = &DrawdownLimit{MaxDaily: drawLimit(t, "maxDaily"), MaxTotal: drawLimit(t, "maxTotal")}
		}
		st := State{KillSwitch: rapid.Bool().Draw(t, "kill")}

		p := Proposal{
			Symbol:   rapid.SampledFrom([]string{"X", "Y", "Z"}).Draw(t, "symbol"),
			Side:     rapid.SampledFrom([]domain.Side{domain.SideBuy, domain.SideSell}).Draw(t, "side"),
			Quantity: drawDecimal(t, "quantity", 1, 1000_00),
			Price:    drawDecimal(t, "price", 0, 1000_00),
		}

		before := acct.Clone()
		first := Evaluate(p, acct, st, cfg)
		for i := 0; i < 3; i++ {
			if again := Evaluate(p, acct, st, cfg); again != first {
				t.Fatalf("verdict changed between calls: %+v vs %+v", first, again)
			}
		}
		if !acct.Cash.Equal(before.Cash) || !acct.PeakValue.Equal(before.PeakValue) || !acct.Value().Equal(before.Value()) {
			t.Fatalf("Evaluate mutated the account")
		}
		if first.Accepted && (first.Reason != "" || first.TripKillSwitch) {
			t.Fatalf("accepted verdict carries rejection data: %+v", first)
		}
		if st.KillSwitch && first.Reason != domain.ReasonKillSwitch {
			t.Fatalf("kill switch must win, got %s", first.Reason)
		}
	})
}
