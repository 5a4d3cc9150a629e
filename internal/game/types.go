package game

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundStatus is the state of the round's state machine.
type RoundStatus string

const (
	StatusWaiting RoundStatus = "WAITING"
	StatusRunning RoundStatus = "RUNNING"
	StatusCrashed RoundStatus = "CRASHED"
)

// BetStatus is the lifecycle of a single wager.
type BetStatus string

const (
	BetActive    BetStatus = "ACTIVE"
	BetCashedOut BetStatus = "CASHED_OUT"
	BetLost      BetStatus = "LOST"
)

// BetKey identifies a bet within the current round's Bet Book: at most
// one Bet exists per (userId, slot) for the round being played — the
// round ID itself is implicit since the book is owned by, and scoped
// to, the active round.
type BetKey struct {
	UserID string
	Slot   int
}

// Bet is a single wager within a round.
type Bet struct {
	BetID             string
	UserID            string
	Slot              int
	Amount            decimal.Decimal
	Currency          string
	AutoCashoutTarget *decimal.Decimal
	CashedOutAt       *decimal.Decimal
	Profit            *decimal.Decimal
	Status            BetStatus
	VariantTag        string
	PlacedAt          time.Time
}

// CurveState tracks one independent crash curve within a round. A
// single-curve round has exactly one CurveState at Slot 1; the
// dual-dragon variant has two.
type CurveState struct {
	Slot              int
	CrashPoint        decimal.Decimal
	CurrentMultiplier decimal.Decimal
	Crashed           bool
}

// Round is one playthrough of the crash curve.
type Round struct {
	RoundID              string
	SequenceNumber       int64
	State                RoundStatus
	ServerSeed           string
	ServerSeedCommitment string
	ClientSeed           string
	Nonce                int
	Curves               []*CurveState
	Bets                 *BetBook
	StartedAt            time.Time
	CrashedAt            time.Time
}

// Curve returns the curve state for the given slot, or nil if the
// slot does not exist in this round.
func (r *Round) Curve(slot int) *CurveState {
	for _, c := range r.Curves {
		if c.Slot == slot {
			return c
		}
	}
	return nil
}

// AllCrashed reports whether every curve in the round has crashed.
func (r *Round) AllCrashed() bool {
	for _, c := range r.Curves {
		if !c.Crashed {
			return false
		}
	}
	return true
}

// PublicView is the wire-safe projection of a Round: it never
// exposes ServerSeed or crash points while the round is not CRASHED.
type PublicView struct {
	RoundID        string      `json:"round_id"`
	SequenceNumber int64       `json:"sequence_number"`
	State          RoundStatus `json:"state"`
	Commitment     string      `json:"commitment"`
	ServerSeed     string      `json:"server_seed,omitempty"`
	ClientSeed     string      `json:"client_seed"`
	Curves         []CurveView `json:"curves"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CrashedAt      *time.Time  `json:"crashed_at,omitempty"`
}

// CurveView is the wire projection of a CurveState.
type CurveView struct {
	Slot              int    `json:"slot"`
	CurrentMultiplier string `json:"current_multiplier"`
	CrashPoint        string `json:"crash_point,omitempty"`
	Crashed           bool   `json:"crashed"`
}

// View renders the round's public projection, honouring the
// "crash point(s) not externally observable before CRASHED" invariant.
func (r *Round) View() PublicView {
	reveal := r.State == StatusCrashed

	curves := make([]CurveView, 0, len(r.Curves))
	for _, c := range r.Curves {
		cv := CurveView{
			Slot:              c.Slot,
			CurrentMultiplier: c.CurrentMultiplier.StringFixed(2),
			Crashed:           c.Crashed,
		}
		if reveal {
			cv.CrashPoint = c.CrashPoint.StringFixed(2)
		}
		curves = append(curves, cv)
	}

	v := PublicView{
		RoundID:        r.RoundID,
		SequenceNumber: r.SequenceNumber,
		State:          r.State,
		Commitment:     r.ServerSeedCommitment,
		ClientSeed:     r.ClientSeed,
		Curves:         curves,
	}
	if reveal {
		v.ServerSeed = r.ServerSeed
	}
	if !r.StartedAt.IsZero() {
		t := r.StartedAt
		v.StartedAt = &t
	}
	if !r.CrashedAt.IsZero() {
		t := r.CrashedAt
		v.CrashedAt = &t
	}
	return v
}

// HistoryEntry is one bounded entry in the crash-history ring.
type HistoryEntry struct {
	RoundID        string    `json:"round_id"`
	SequenceNumber int64     `json:"sequence_number"`
	CrashPoints    []string  `json:"crash_points"`
	CrashedAt      time.Time `json:"crashed_at"`
}

// PlaceBetRequest is the input to PlaceBet.
type PlaceBetRequest struct {
	UserID            string
	Amount            decimal.Decimal
	AutoCashoutTarget *decimal.Decimal
	Slot              int
	Currency          string
}

// PlaceBetResult is returned synchronously from PlaceBet.
type PlaceBetResult struct {
	Bet   *Bet
	Error ErrorCode
}

// CashoutRequest is the input to Cashout.
type CashoutRequest struct {
	UserID            string
	Slot              int
	ClaimedMultiplier *decimal.Decimal
	Manual            bool
}

// CashoutResult is returned synchronously from Cashout.
type CashoutResult struct {
	Bet        *Bet
	Multiplier decimal.Decimal
	Payout     decimal.Decimal
	Profit     decimal.Decimal
	Error      ErrorCode
}

// StateChangeEvent is the payload of EventType state_change.
type StateChangeEvent struct {
	State RoundStatus `json:"state"`
	Round PublicView  `json:"round"`
}

// TickEvent is the payload of EventType round_update, published once
// per tick while RUNNING.
type TickEvent struct {
	Curves    []CurveView `json:"curves"`
	ElapsedMs int64       `json:"elapsed_ms"`
}

// CurveCrashedEvent is the payload published when one curve of a
// dual-curve round crashes while the other is still running.
type CurveCrashedEvent struct {
	Slot           int    `json:"slot"`
	CrashPoint     string `json:"crash_point"`
	SequenceNumber int64  `json:"sequence_number"`
}

// CrashedEvent is the payload published once every curve in the round
// has crashed.
type CrashedEvent struct {
	CrashPoints    []string `json:"crash_points"`
	SequenceNumber int64    `json:"sequence_number"`
}

// BetPlacedEvent is the payload published after a successful placeBet.
type BetPlacedEvent struct {
	UserID   string `json:"user_id"`
	BetID    string `json:"bet_id"`
	Amount   string `json:"amount"`
	Slot     int    `json:"slot"`
	Currency string `json:"currency"`
}

// CashoutEvent is the payload published after a settled cashout.
type CashoutEvent struct {
	UserID     string `json:"user_id"`
	Slot       int    `json:"slot"`
	Multiplier string `json:"multiplier"`
	Profit     string `json:"profit"`
	Manual     bool   `json:"manual"`
}

// BalanceUpdateReason is the reason tag on a WalletTransition.
type BalanceUpdateReason string

const (
	ReasonBetPlaced BalanceUpdateReason = "BET_PLACED"
	ReasonCashout   BalanceUpdateReason = "CASHOUT"
)

// BalanceUpdateEvent is the private, per-user payload published after
// every wallet transition.
type BalanceUpdateEvent struct {
	UserID string              `json:"user_id"`
	Delta  string              `json:"delta"`
	Reason BalanceUpdateReason `json:"reason"`
}

// SettledBetRecord is the shape handed to the Persistence Adapter once
// a bet reaches CASHED_OUT or LOST.
type SettledBetRecord struct {
	BetID             string
	UserID            string
	Variant           string
	Currency          string
	Amount            decimal.Decimal
	Multiplier        *decimal.Decimal
	Payout            decimal.Decimal
	Profit            decimal.Decimal
	ServerSeed        string
	Commitment        string
	ClientSeed        string
	Nonce             int
	SequenceNumber    int64
	CrashPoint        decimal.Decimal
	AutoCashoutTarget *decimal.Decimal
	CashedOutAt       *decimal.Decimal
	IsWin             bool
	SettledAt         time.Time
}
