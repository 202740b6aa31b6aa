// Package backoff computes bounded exponential delays.
package backoff

import (
	"math"
	"time"
)

// Policy describes a bounded exponential backoff. Zero values use defaults.
type Policy struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

func (p Policy) normalized() Policy {
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 5 * time.Second
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

// Delay returns the wait before the given attempt.
// Attempt 1 returns Initial, attempt 2 returns Initial*2, and so on up to Max.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		return p.Initial
	}
	d := float64(p.Initial) * math.Pow(2, float64(attempt-1))
	if d > float64(p.Max) || math.IsInf(d, 0) {
		return p.Max
	}
	return time.Duration(d)
}

// Exponential is shorthand for Policy{Initial: initial, Max: max}.Delay(attempt).
func Exponential(attempt int, initial, max time.Duration) time.Duration {
	return Policy{Initial: initial, Max: max}.Delay(attempt)
}
