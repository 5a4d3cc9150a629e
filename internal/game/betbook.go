package game

import "github.com/shopspring/decimal"

// BetBook holds every Bet placed in the currently active round, keyed
// by (userId, slot), and remembers the order bets were placed in. It
// is never mutated concurrently: the round actor is the only goroutine
// that ever touches it, so no internal locking is needed. A Round's
// PublicView carries no bets; the *Bet in a PlaceBetResult or
// CashoutResult is the book's own record, not a copy.
type BetBook struct {
	bets  map[BetKey]*Bet
	order []BetKey
}

// NewBetBook returns an empty book, ready for a new round.
func NewBetBook() *BetBook {
	return &BetBook{bets: make(map[BetKey]*Bet)}
}

// Place inserts a bet for (userId, slot), rejecting a second bet on
// the same slot within the same round.
func (b *BetBook) Place(bet *Bet) ErrorCode {
	key := BetKey{UserID: bet.UserID, Slot: bet.Slot}
	if _, exists := b.bets[key]; exists {
		return ErrDuplicateBet
	}
	b.bets[key] = bet
	b.order = append(b.order, key)
	return ErrNone
}

// Get returns the bet at (userId, slot), or nil if none exists.
func (b *BetBook) Get(userID string, slot int) *Bet {
	return b.bets[BetKey{UserID: userID, Slot: slot}]
}

// Len reports how many bets are in the book.
func (b *BetBook) Len() int {
	return len(b.order)
}

// All returns every bet in the book in the order they were placed.
func (b *BetBook) All() []*Bet {
	out := make([]*Bet, 0, len(b.order))
	for _, key := range b.order {
		if bet, ok := b.bets[key]; ok {
			out = append(out, bet)
		}
	}
	return out
}

// ActiveAutoCashoutCandidates returns every still-ACTIVE bet on slot
// whose AutoCashoutTarget is at or below currentMultiplier, in
// placement order.
func (b *BetBook) ActiveAutoCashoutCandidates(slot int, currentMultiplier decimal.Decimal) []*Bet {
	var out []*Bet
	for _, key := range b.order {
		if key.Slot != slot {
			continue
		}
		bet := b.bets[key]
		if bet.Status != BetActive || bet.AutoCashoutTarget == nil {
			continue
		}
		if bet.AutoCashoutTarget.LessThanOrEqual(currentMultiplier) {
			out = append(out, bet)
		}
	}
	return out
}

// SettleLosses marks every ACTIVE bet on the given slot as LOST, once
// that curve has crashed, and returns them in placement order.
// Already-settled bets are left untouched.
func (b *BetBook) SettleLosses(slot int) []*Bet {
	var lost []*Bet
	for _, key := range b.order {
		if key.Slot != slot {
			continue
		}
		bet := b.bets[key]
		if bet.Status == BetActive {
			bet.Status = BetLost
			lost = append(lost, bet)
		}
	}
	return lost
}

// Snapshot returns a shallow copy of the book's contents keyed by
// (userId, slot), suitable for embedding in a Round snapshot handed
// outside the actor.
func (b *BetBook) Snapshot() map[BetKey]*Bet {
	out := make(map[BetKey]*Bet, len(b.bets))
	for k, v := range b.bets {
		cp := *v
		out[k] = &cp
	}
	return out
}
