// Package persistence implements game.PersistenceAdapter against the
// settled_bets table: every write here happens off the round actor's
// goroutine, so a slow or failing database never delays a tick.
package persistence

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"aviator/internal/game"
)

// Postgres writes settled bets out of band. Failures are logged and
// swallowed — CreateSettledBet's contract is fire-and-forget from the
// caller's perspective.
type Postgres struct {
	pool *pgxpool.Pool
}

// New wraps a pgx pool as a Postgres persistence adapter.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) CreateSettledBet(ctx context.Context, record game.SettledBetRecord) {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO settled_bets (
			bet_id, user_id, variant, currency, amount, multiplier, payout, profit,
			server_seed, commitment, client_seed, nonce, sequence_number, crash_point,
			auto_cashout_target, cashed_out_at, is_win, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18
		)
		ON CONFLICT (bet_id) DO NOTHING`,
		record.BetID, record.UserID, record.Variant, record.Currency, record.Amount, record.Multiplier, record.Payout, record.Profit,
		record.ServerSeed, record.Commitment, record.ClientSeed, record.Nonce, record.SequenceNumber, record.CrashPoint,
		record.AutoCashoutTarget, record.CashedOutAt, record.IsWin, record.SettledAt,
	)
	if err != nil {
		log.Printf("[PERSIST] failed to write settled bet %s: %v", record.BetID, err)
	}
}

// UpdatePendingBet is reserved for a future write-ahead record of a
// bet the moment it is placed, before it settles; settled_bets is
// currently the only table this adapter writes to, so this is a no-op
// that still satisfies the PersistenceAdapter contract.
func (p *Postgres) UpdatePendingBet(ctx context.Context, betID string, fields map[string]interface{}) {}
