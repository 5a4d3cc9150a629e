// Package wallet implements the game.WalletPort boundary over a
// Postgres-backed ledger: every balance change is a single row lock
// plus an audit insert inside one transaction.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres implements game.WalletPort against the wallets and
// wallet_transactions tables. Debit and Credit are each a single
// transaction: Debit takes the row lock with SELECT ... FOR UPDATE and
// then UPDATEs, Credit takes it through an INSERT ... ON CONFLICT DO
// UPDATE upsert, and both finish with an audit INSERT, so two
// concurrent calls for the same (userID, currency) never interleave.
type Postgres struct {
	pool *pgxpool.Pool
}

// New wraps a pgx pool as a Postgres wallet.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Debit subtracts amount from the user's balance if sufficient funds
// are available. ok is false (err nil) on insufficient funds or a
// missing wallet row — PlaceBet treats both as INSUFFICIENT_FUNDS.
func (w *Postgres) Debit(ctx context.Context, userID, currency string, amount decimal.Decimal) (bool, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("wallet.Debit begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1 AND currency = $2 FOR UPDATE`,
		userID, currency,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("wallet.Debit lock: %w", err)
	}

	if balance.LessThan(amount) {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance - $1, updated_at = now() WHERE user_id = $2 AND currency = $3`,
		amount, userID, currency,
	); err != nil {
		return false, fmt.Errorf("wallet.Debit update: %w", err)
	}

	if err := insertTransaction(ctx, tx, userID, currency, amount.Neg(), "BET_PLACED", nil); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("wallet.Debit commit: %w", err)
	}
	return true, nil
}

// Credit adds amount to the user's balance, creating the wallet row
// on first use. Unlike Debit it never fails on a missing row —
// cashout payouts must always land even for a user whose wallet
// wasn't pre-provisioned.
func (w *Postgres) Credit(ctx context.Context, userID, currency string, amount decimal.Decimal) (bool, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("wallet.Credit begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO wallets (user_id, currency, balance, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, currency)
		 DO UPDATE SET balance = wallets.balance + $3, updated_at = now()`,
		userID, currency, amount,
	); err != nil {
		return false, fmt.Errorf("wallet.Credit upsert: %w", err)
	}

	if err := insertTransaction(ctx, tx, userID, currency, amount, "CASHOUT", nil); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("wallet.Credit commit: %w", err)
	}
	return true, nil
}

// Balance reads the current balance for (userID, currency), returning
// zero for a wallet that has never been provisioned.
func (w *Postgres) Balance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := w.pool.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1 AND currency = $2`,
		userID, currency,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet.Balance: %w", err)
	}
	return balance, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, userID, currency string, amount decimal.Decimal, reason string, betID *string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO wallet_transactions (user_id, currency, amount, reason, bet_id) VALUES ($1, $2, $3, $4, $5)`,
		userID, currency, amount, reason, betID,
	)
	if err != nil {
		return fmt.Errorf("wallet.insertTransaction: %w", err)
	}
	return nil
}
