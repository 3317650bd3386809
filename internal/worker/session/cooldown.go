package session

import (
	"fmt"
	"time"
)

// CooldownBuffer is added to the capture interval so the next scheduled capture is skipped.
const CooldownBuffer = 5 * time.Second

// CooldownPolicy decides how long to skip captures after a slack check.
// consecutive is the number of slack checks in a row, starting at 1.
type CooldownPolicy interface {
	Cooldown(interval time.Duration, consecutive int) time.Duration
}

// FixedCooldown skips exactly one capture cycle.
type FixedCooldown struct{}

// Cooldown returns interval plus CooldownBuffer.
func (FixedCooldown) Cooldown(interval time.Duration, _ int) time.Duration {
	return interval + CooldownBuffer
}

// LinearCooldown skips one more cycle for each consecutive slack check, up to MaxSteps cycles.
type LinearCooldown struct {
	MaxSteps int
}

// Cooldown returns steps*interval plus CooldownBuffer.
func (p LinearCooldown) Cooldown(interval time.Duration, consecutive int) time.Duration {
	steps := consecutive
	if steps < 1 {
		steps = 1
	}
	if p.MaxSteps > 0 && steps > p.MaxSteps {
		steps = p.MaxSteps
	}
	return time.Duration(steps)*interval + CooldownBuffer
}

// PolicyByName returns the policy for a config value ("fixed" or "linear").
func PolicyByName(name string, maxSteps int) (CooldownPolicy, error) {
	switch name {
	case "", "fixed":
		return FixedCooldown{}, nil
	case "linear":
		return LinearCooldown{MaxSteps: maxSteps}, nil
	default:
		return nil, fmt.Errorf("unknown cooldown policy %q", name)
	}
}
