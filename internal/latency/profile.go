package latency

import (
	"fmt"
	"strings"
	"time"
)

// Range is an inclusive delay interval. Min == Max is a fixed delay.
type Range struct {
	Min time.Duration `json:"min" yaml:"min"`
	Max time.Duration `json:"max" yaml:"max"`
}

// Fixed returns a range with a single value.
func Fixed(d time.Duration) Range {
	return Range{Min: d, Max: d}
}

// Between returns the range [min, max].
func Between(min, max time.Duration) Range {
	return Range{Min: min, Max: max}
}

// IsFixed reports whether sampling the range needs no randomness.
func (r Range) IsFixed() bool {
	return r.Min == r.Max
}

// Validate checks 0 <= Min <= Max.
func (r Range) Validate() error {
	if r.Min < 0 {
		return fmt.Errorf("negative latency %s", r.Min)
	}
	if r.Max < r.Min {
		return fmt.Errorf("latency max %s < min %s", r.Max, r.Min)
	}
	return nil
}

// Profile fixes the submission, fill and cancellation delays.
type Profile struct {
	Name         string `json:"name"`
	Submission   Range  `json:"submission"`
	Fill         Range  `json:"fill"`
	Cancellation Range  `json:"cancellation"`
}

// Validate checks every range.
func (p Profile) Validate() error {
	for name, r := range map[string]Range{
		"submission":   p.Submission,
		"fill":         p.Fill,
		"cancellation": p.Cancellation,
	} {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("profile %q %s: %w", p.Name, name, err)
		}
	}
	return nil
}

// IsZero reports whether every delay is exactly zero.
func (p Profile) IsZero() bool {
	z := Fixed(0)
	return p.Submission == z && p.Fill == z && p.Cancellation == z
}

// Preset names.
const (
	NameZero    = "zero"
	NameFast    = "fast"
	NameTypical = "typical"
	NameSlow    = "slow"
	NameCustom  = "custom"
)

// Zero is the default: every action is due at the tick or call that scheduled it.
func Zero() Profile {
	return Profile{Name: NameZero}
}

// Fast models a co-located connection.
func Fast() Profile {
	return Profile{
		Name:         NameFast,
		Submission:   Fixed(10 * time.Millisecond),
		Fill:         Between(50*time.Millisecond, 100*time.Millisecond),
		Cancellation: Fixed(10 * time.Millisecond),
	}
}

// Typical models a retail broker API.
func Typical() Profile {
	return Profile{
		Name:         NameTypical,
		Submission:   Fixed(50 * time.Millisecond),
		Fill:         Between(100*time.Millisecond, 250*time.Millisecond),
		Cancellation: Fixed(50 * time.Millisecond),
	}
}

// Slow models a congested or distant venue.
func Slow() Profile {
	return Profile{
		Name:         NameSlow,
		Submission:   Fixed(200 * time.Millisecond),
		Fill:         Between(500*time.Millisecond, 1500*time.Millisecond),
		Cancellation: Fixed(200 * time.Millisecond),
	}
}

// Custom builds a profile from explicit ranges.
func Custom(submission, fill, cancellation Range) (Profile, error) {
	p := Profile{Name: NameCustom, Submission: submission, Fill: fill, Cancellation: cancellation}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// ProfileByName resolves a preset. "low" and "high" alias fast and slow.
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameZero, "none":
		return Zero(), nil
	case NameFast, "low":
		return Fast(), nil
	case NameTypical:
		return Typical(), nil
	case NameSlow, "high":
		return Slow(), nil
	default:
		return Profile{}, fmt.Errorf("unknown latency profile %q", name)
	}
}
