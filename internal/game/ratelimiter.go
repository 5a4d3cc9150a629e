package game

import (
	"time"

	"github.com/shopspring/decimal"
)

// minAutoCashoutTarget is the lowest accepted autoCashoutTarget: a bet
// cannot auto-cash at or below 1.00 since the multiplier starts there.
var minAutoCashoutTarget = decimal.NewFromFloat(1.01)

// BetRateLimiter enforces the per-(user, slot) cooldown between bet
// placement attempts. It is owned by the round actor and never
// touched from another goroutine, so a plain map is enough — no
// mutex, mirroring the Bet Book's single-writer discipline.
type BetRateLimiter struct {
	cooldown time.Duration
	lastBet  map[BetKey]time.Time
}

// NewBetRateLimiter returns a limiter enforcing the given cooldown.
func NewBetRateLimiter(cooldown time.Duration) *BetRateLimiter {
	return &BetRateLimiter{
		cooldown: cooldown,
		lastBet:  make(map[BetKey]time.Time),
	}
}

// Allow reports whether (userID, slot) may place a bet right now. The
// attempt timestamp is recorded unconditionally, accepted or not, so a
// burst of rejected attempts still smooths out rather than resetting
// the window back to the last success.
func (l *BetRateLimiter) Allow(userID string, slot int, now time.Time) bool {
	key := BetKey{UserID: userID, Slot: slot}
	last, seen := l.lastBet[key]
	l.lastBet[key] = now
	return !seen || now.Sub(last) >= l.cooldown
}

// ValidateAmount checks a wager amount against the configured bounds.
func ValidateAmount(amount, minBet, maxBet decimal.Decimal) ErrorCode {
	if amount.LessThan(minBet) {
		return ErrBelowMin
	}
	if amount.GreaterThan(maxBet) {
		return ErrAboveMax
	}
	return ErrNone
}

// ValidateSlot checks that the requested slot exists for the engine's
// configured curve count (1 for single-curve, 1 or 2 for dual-dragon).
func ValidateSlot(slot, curveCount int) ErrorCode {
	if slot < 1 || slot > curveCount {
		return ErrInvalidSlot
	}
	return ErrNone
}

// ValidateAutoCashoutTarget checks an optional auto-cashout target:
// when present it must be at least 1.01.
func ValidateAutoCashoutTarget(target *decimal.Decimal) ErrorCode {
	if target == nil {
		return ErrNone
	}
	if target.LessThan(minAutoCashoutTarget) {
		return ErrInvalidAutoTarget
	}
	return ErrNone
}
