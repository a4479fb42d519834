package quant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"paper_go/pkg/safe"

	"github.com/shopspring/decimal"
)

// TimeStamp represents Unix Microseconds.
// It is the only notion of time inside the engine; wall clocks stay at the edges.
type TimeStamp int64

// Bps represents basis points (1 bps = 0.01%).
type Bps int64

const (
	// BpsScale is the number of basis points in 1.0.
	BpsScale = 10000
)

var (
	ErrEmptyDecimal   = errors.New("empty decimal string")
	ErrInvalidDecimal = errors.New("invalid decimal string")
)

// FromTime converts a wall-clock time to TimeStamp.
func FromTime(t time.Time) TimeStamp {
	return TimeStamp(t.UnixMicro())
}

// Time converts back to a UTC time.Time.
func (ts TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}

// Add returns ts shifted by d. Sub-microsecond parts of d are truncated.
// Panics on overflow.
func (ts TimeStamp) Add(d time.Duration) TimeStamp {
	return TimeStamp(safe.SafeAdd(int64(ts), d.Microseconds()))
}

// Sub returns the duration between ts and earlier.
func (ts TimeStamp) Sub(earlier TimeStamp) time.Duration {
	return time.Duration(safe.SafeSub(int64(ts), int64(earlier))) * time.Microsecond
}

// Day returns the start of the UTC day containing ts.
func (ts TimeStamp) Day() TimeStamp {
	const microsPerDay = int64(24 * time.Hour / time.Microsecond)
	v := int64(ts)
	day := v - v%microsPerDay
	if v < 0 && v%microsPerDay != 0 {
		day -= microsPerDay
	}
	return TimeStamp(day)
}

func (ts TimeStamp) String() string {
	return ts.Time().Format("2006-01-02T15:04:05.000000Z")
}

// Fraction returns the bps value as a decimal fraction (25 bps -> 0.0025).
// Exact: no division is performed.
func (b Bps) Fraction() decimal.Decimal {
	return decimal.New(int64(b), -4)
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// ParseTimeStamp converts a string (ms) to TimeStamp (micros).
func ParseTimeStamp(s string) (TimeStamp, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TimeStamp(safe.SafeMul(ms, 1000)), nil
}

// ParseDecimal parses a plain fixed-point string ("-12.3400") into a decimal.
// Exponents, NaN, Inf, thousands separators and multiple dots are rejected:
// only digits, one optional leading sign and one optional dot are accepted.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyDecimal
	}

	body := s
	if body[0] == '-' || body[0] == '+' {
		body = body[1:]
	}

	digits, dots := 0, 0
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
		default:
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
		}
	}
	if digits == 0 || dots > 1 {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	return d, nil
}

// MustDecimal is ParseDecimal for constants and tests. Panics on bad input.
func MustDecimal(s string) decimal.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}
