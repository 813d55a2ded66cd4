// Package backoff spaces the retries of a failed job and the re-sends a
// store adapter makes after a transient backend error.
//
// A retry schedule is plain data: a [Curve] names a [Kind] and carries its
// parameters and a proportional jitter. The retry section of the config
// maps field for field onto a Curve, so a job type's schedule reads the
// same whether it came from a file or from job.WithBackoff.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns the wait after failed attempt n before the job is due
	// again. n counts from 1; smaller values are treated as 1.
	Delay(attempt int) time.Duration
}

// Kind names the shape of a retry schedule.
type Kind string

const (
	// KindNone makes a retried job due immediately.
	KindNone Kind = "none"
	// KindFixed waits Initial before every retry.
	KindFixed Kind = "fixed"
	// KindLinear waits Initial times the attempt number.
	KindLinear Kind = "linear"
	// KindExponential waits Initial, then grows by Multiplier per attempt.
	KindExponential Kind = "exponential"
)

// ParseKind resolves a configured strategy name. The empty name selects
// exponential and "constant" is accepted for fixed.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(KindExponential):
		return KindExponential, nil
	case string(KindFixed), "constant":
		return KindFixed, nil
	case string(KindLinear):
		return KindLinear, nil
	case string(KindNone):
		return KindNone, nil
	}
	return "", fmt.Errorf("unknown retry strategy %q", name)
}

// Curve is a retry schedule. The zero Curve is an exponential schedule
// with no delay, which Validate rejects.
type Curve struct {
	Kind Kind
	// Initial is the first delay, and the step of a linear curve.
	Initial time.Duration
	// Max caps the delay before jitter is applied. Zero leaves it uncapped.
	Max time.Duration
	// Multiplier is the growth factor of an exponential curve. Zero means 2.
	Multiplier float64
	// Jitter spreads each delay uniformly over d ± d*Jitter/2. It is
	// clamped to [0, 1] when applied.
	Jitter float64
}

// NewConstant returns a fixed curve.
func NewConstant(d time.Duration) Curve {
	return Curve{Kind: KindFixed, Initial: d}
}

// NewLinear returns a linear curve capped at maxDelay.
func NewLinear(step, maxDelay time.Duration) Curve {
	return Curve{Kind: KindLinear, Initial: step, Max: maxDelay}
}

// NewExponential returns a doubling curve capped at maxDelay.
func NewExponential(initial, maxDelay time.Duration) Curve {
	return Curve{Kind: KindExponential, Initial: initial, Max: maxDelay, Multiplier: 2}
}

// DefaultStrategy is the schedule used when neither the config nor the job
// type names one: doubling from 1s up to 1h with 10% jitter.
func DefaultStrategy() Strategy {
	return Curve{Kind: KindExponential, Initial: time.Second, Max: time.Hour, Multiplier: 2, Jitter: 0.1}
}

// Validate reports parameters that cannot produce a usable schedule.
func (c Curve) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	switch {
	case c.Kind == KindNone:
		return nil
	case c.Initial <= 0:
		return fmt.Errorf("%s retry delay must be positive, got %s", c.Kind, c.Initial)
	case c.Max < 0:
		return errors.New("max retry delay must not be negative")
	case c.Max > 0 && c.Max < c.Initial:
		return fmt.Errorf("max retry delay %s is shorter than the initial delay %s", c.Max, c.Initial)
	case c.Multiplier != 0 && c.Multiplier < 1:
		return fmt.Errorf("retry multiplier %g would shrink the delay", c.Multiplier)
	case c.Jitter < 0 || c.Jitter > 1:
		return fmt.Errorf("retry jitter %g is outside [0, 1]", c.Jitter)
	}
	return nil
}

// Delay returns the jittered delay after failed attempt n.
func (c Curve) Delay(attempt int) time.Duration {
	return spread(c.Base(attempt), c.Jitter)
}

// Base returns the delay after failed attempt n before jitter. It never
// overflows: a curve that outgrows time.Duration saturates.
func (c Curve) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var f float64
	switch c.Kind {
	case KindNone:
		return 0
	case KindFixed:
		f = float64(c.Initial)
	case KindLinear:
		f = float64(c.Initial) * float64(attempt)
	default:
		m := c.Multiplier
		if m <= 0 {
			m = 2
		}
		f = float64(c.Initial) * math.Pow(m, float64(attempt-1))
	}
	if c.Max > 0 && f > float64(c.Max) {
		return c.Max
	}
	if f >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// String renders the curve the way it is configured, e.g.
// "exponential 1s..1h x2 ±10%".
func (c Curve) String() string {
	if c.Kind == KindNone {
		return string(KindNone)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", c.Kind, c.Initial)
	if c.Max > 0 {
		fmt.Fprintf(&b, "..%s", c.Max)
	}
	if c.Kind == KindExponential {
		m := c.Multiplier
		if m <= 0 {
			m = 2
		}
		fmt.Fprintf(&b, " x%g", m)
	}
	if c.Jitter > 0 {
		fmt.Fprintf(&b, " ±%g%%", clampJitter(c.Jitter)*100)
	}
	return b.String()
}

// None never waits; a retried job is due immediately.
type None struct{}

// Delay always returns zero.
func (None) Delay(int) time.Duration { return 0 }

// WithJitter returns s with proportional jitter. A Curve keeps its shape
// and takes the new factor; any other strategy is wrapped.
func WithJitter(s Strategy, factor float64) Strategy {
	if c, ok := s.(Curve); ok {
		c.Jitter = factor
		return c
	}
	return jittered{base: s, factor: factor}
}

type jittered struct {
	base   Strategy
	factor float64
}

func (j jittered) Delay(attempt int) time.Duration {
	return spread(j.base.Delay(attempt), j.factor)
}

func clampJitter(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

// spread shifts d by a uniform amount in ±d*factor/2 and never returns a
// negative delay.
func spread(d time.Duration, factor float64) time.Duration {
	window := float64(d) * clampJitter(factor)
	if window <= 0 {
		return d
	}
	out := float64(d) + rand.Float64()*window - window/2 //nolint:gosec // jitter does not need crypto rand
	if out <= 0 {
		return 0
	}
	if out >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(out)
}
