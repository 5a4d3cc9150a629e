package game

import (
	"context"

	"github.com/shopspring/decimal"
)

// WalletPort is the boundary between the round actor and whatever
// durably owns player balances. Implementations MUST provide atomic
// read-modify-write semantics per (userId, currency) — a per-row
// exclusive lock, a compare-and-swap, or a rejecting transactional
// update are all acceptable, so long as two concurrent callers for the
// same account never interleave.
type WalletPort interface {
	// Debit atomically subtracts amount from the user's balance. ok is
	// false (with a nil error) on insufficient funds or a missing
	// wallet; err is reserved for infrastructure failures.
	Debit(ctx context.Context, userID, currency string, amount decimal.Decimal) (ok bool, err error)
	// Credit atomically adds amount to the user's balance.
	Credit(ctx context.Context, userID, currency string, amount decimal.Decimal) (ok bool, err error)
}

// PersistenceAdapter writes settled bets out of band. Every call is
// fire-and-forget from the round actor's perspective: failures are
// logged by the implementation and never propagate back to delay a
// tick, a cashout, or a round transition.
type PersistenceAdapter interface {
	CreateSettledBet(ctx context.Context, record SettledBetRecord)
	UpdatePendingBet(ctx context.Context, betID string, fields map[string]interface{})
}

// NopPersistence discards every write. Useful for tests and for
// running the engine before a real adapter is wired up.
type NopPersistence struct{}

func (NopPersistence) CreateSettledBet(context.Context, SettledBetRecord)          {}
func (NopPersistence) UpdatePendingBet(context.Context, string, map[string]interface{}) {}
