package domain

import (
	"testing"
	"time"

	"paper_go/pkg/quant"
)

var dec = quant.MustDecimal

func TestPosition_Direction(t *testing.T) {
	tests := []struct {
		name    string
		qty     string
		isLong  bool
		isShort bool
	}{
		{"Long", "100", true, false},
		{"Short", "-100", false, true},
		{"Flat", "0", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Position{Quantity: dec(tt.qty)}
			if got := p.IsLong(); got != tt.isLong {
				t.Errorf("Position.IsLong() = %v, want %v", got, tt.isLong)
			}
			if got := p.IsShort(); got != tt.isShort {
				t.Errorf("Position.IsShort() = %v, want %v", got, tt.isShort)
			}
		})
	}
}

func TestAccount_ApplyFill_BuySell(t *testing.T) {
	a := NewAccount(dec("100000"))

	a.ApplyFill("X", SideBuy, dec("10"), dec("100"), dec("1"))
	if got := a.Cash.String(); got != "98999" {
		t.Errorf("cash after buy = %s, want 98999", got)
	}
	if got := a.PositionQty("X").String(); got != "10" {
		t.Errorf("position after buy = %s, want 10", got)
	}

	a.ApplyFill("X", SideBuy, dec("10"), dec("110"), dec("0"))
	if got := a.Positions["X"].AvgEntryPrice.String(); got != "105" {
		t.Errorf("avg entry = %s, want 105", got)
	}

	a.ApplyFill("X", SideSell, dec("5"), dec("115"), dec("0"))
	if got := a.Positions["X"].RealizedPnL.String(); got != "50" {
		t.Errorf("realized pnl = %s, want 50", got)
	}
	if got := a.PositionQty("X").String(); got != "15" {
		t.Errorf("position after sell = %s, want 15", got)
	}
}

func TestAccount_ApplyFill_FlipResetsAverage(t *testing.T) {
	a := NewAccount(dec("1000"))
	a.ApplyFill("X", SideBuy, dec("2"), dec("10"), dec("0"))
	a.ApplyFill("X", SideSell, dec("5"), dec("12"), dec("0"))

	p := a.Positions["X"]
	if p.Quantity.String() != "-3" {
		t.Fatalf("position = %s, want -3", p.Quantity)
	}
	if p.AvgEntryPrice.String() != "12" {
		t.Errorf("avg entry after flip = %s, want 12", p.AvgEntryPrice)
	}
	if p.RealizedPnL.String() != "4" {
		t.Errorf("realized = %s, want 4", p.RealizedPnL)
	}
}

func TestAccount_ValueAndExposure(t *testing.T) {
	a := NewAccount(dec("1000"))
	a.ApplyFill("X", SideBuy, dec("5"), dec("100"), dec("0"))
	a.ApplyFill("Y", SideSell, dec("2"), dec("50"), dec("0"))

	// Without marks positions are valued at zero.
	if got := a.Value().String(); got != "600" {
		t.Errorf("value without marks = %s, want 600", got)
	}

	a.Mark("X", dec("110"), 1)
	a.Mark("Y", dec("40"), 2)

	// 600 + 5*110 - 2*40
	if got := a.Value().String(); got != "1070" {
		t.Errorf("value = %s, want 1070", got)
	}
	gross, net := a.Exposures()
	if gross.String() != "630" || net.String() != "470" {
		t.Errorf("exposures = %s/%s, want 630/470", gross, net)
	}
}

func TestAccount_PeakAndDayRoll(t *testing.T) {
	day1 := quant.FromTime(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))
	day2 := quant.FromTime(time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC))

	a := NewAccount(dec("1000"))
	a.ApplyFill("X", SideBuy, dec("10"), dec("100"), dec("0"))

	a.Mark("X", dec("120"), day1)
	if a.PeakValue.String() != "1200" {
		t.Errorf("peak = %s, want 1200", a.PeakValue)
	}
	if a.DayStartValue.String() != "1000" {
		t.Errorf("first day start should stay at initial value, got %s", a.DayStartValue)
	}

	a.Mark("X", dec("90"), day1.Add(time.Hour))
	if a.PeakValue.String() != "1200" {
		t.Errorf("peak must not decrease, got %s", a.PeakValue)
	}

	a.Mark("X", dec("95"), day2)
	if a.DayStartValue.String() != "900" {
		t.Errorf("day start on roll = %s, want 900 (value before the new mark)", a.DayStartValue)
	}
}

func TestAccount_DayRollFromEpochDay(t *testing.T) {
	a := NewAccount(dec("1000"))
	a.ApplyFill("X", SideBuy, dec("10"), dec("100"), dec("0"))

	a.Mark("X", dec("100"), 1000)
	a.Mark("X", dec("80"), quant.TimeStamp(2*time.Hour/time.Microsecond))
	if a.DayStartValue.String() != "1000" {
		t.Fatalf("day start changed within day 0: %s", a.DayStartValue)
	}

	a.Mark("X", dec("85"), quant.TimeStamp(25*time.Hour/time.Microsecond))
	if a.DayStartValue.String() != "800" {
		t.Errorf("day start after the first roll = %s, want 800", a.DayStartValue)
	}
}

func TestAccount_CloneIsDeep(t *testing.T) {
	a := NewAccount(dec("1000"))
	a.ApplyFill("X", SideBuy, dec("1"), dec("10"), dec("0"))
	a.Mark("X", dec("10"), 1)

	c := a.Clone()
	c.ApplyFill("X", SideBuy, dec("1"), dec("10"), dec("0"))
	c.Mark("X", dec("20"), 2)

	if a.PositionQty("X").String() != "1" {
		t.Error("clone shares positions")
	}
	if m, _ := a.MarkPrice("X"); m.String() != "10" {
		t.Error("clone shares marks")
	}
}
