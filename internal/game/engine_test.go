package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"aviator/internal/config"
)

// fakeWallet is an in-memory WalletPort for tests: balances are zero
// until seed sets them per user, and every Debit/Credit is atomic under
// a single mutex, matching the "no interleaving" contract real implementations
// must uphold.
type fakeWallet struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	failCredit bool
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{balances: make(map[string]decimal.Decimal)}
}

func (w *fakeWallet) seed(userID string, amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] = amount
}

func (w *fakeWallet) balance(userID string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID]
}

func (w *fakeWallet) Debit(_ context.Context, userID, _ string, amount decimal.Decimal) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal := w.balances[userID]
	if bal.LessThan(amount) {
		return false, nil
	}
	w.balances[userID] = bal.Sub(amount)
	return true, nil
}

func (w *fakeWallet) Credit(_ context.Context, userID, _ string, amount decimal.Decimal) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failCredit {
		return false, nil
	}
	w.balances[userID] = w.balances[userID].Add(amount)
	return true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		HouseEdge:     decimal.NewFromFloat(0.04),
		WaitingMs:     10 * time.Millisecond,
		CrashedMs:     10 * time.Millisecond,
		TickMs:        5 * time.Millisecond,
		MinBet:        decimal.NewFromFloat(0.10),
		MaxBet:        decimal.NewFromFloat(10000),
		MaxCrashPoint: decimal.NewFromFloat(5000),
		BetCooldownMs: 500 * time.Millisecond,
		MaxHistory:    20,
		CurveCount:    1,
	}
}

func newTestEngine(cfg *config.Config, wallet WalletPort) *Engine {
	return NewEngine(cfg, NewEventBus(), wallet, NopPersistence{}, NewSeedStore())
}

func freshRound(curveCount int) *Round {
	curves := make([]*CurveState, curveCount)
	for i := range curves {
		curves[i] = &CurveState{Slot: i + 1, CrashPoint: decimal.NewFromFloat(2.00), CurrentMultiplier: decimal.NewFromFloat(1.00)}
	}
	return &Round{
		RoundID:        "test-round",
		SequenceNumber: 1,
		State:          StatusWaiting,
		Curves:         curves,
		Bets:           NewBetBook(),
	}
}

func TestEngine_ProcessPlaceBet_Preconditions(t *testing.T) {
	cfg := testConfig()

	t.Run("rejects when round not waiting", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.NewFromInt(100))
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		round.State = StatusRunning

		res := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10)})
		if res.Error != ErrBettingClosed {
			t.Fatalf("want ErrBettingClosed, got %v", res.Error)
		}
	})

	t.Run("rejects invalid slot", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.NewFromInt(100))
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)

		res := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 2, Amount: decimal.NewFromInt(10)})
		if res.Error != ErrInvalidSlot {
			t.Fatalf("want ErrInvalidSlot, got %v", res.Error)
		}
	})

	t.Run("rejects duplicate bet before checking amount", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.NewFromInt(100))
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		round.Bets.Place(&Bet{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(5), Status: BetActive})

		res := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromFloat(0.01)})
		if res.Error != ErrDuplicateBet {
			t.Fatalf("want ErrDuplicateBet, got %v", res.Error)
		}
	})

	t.Run("rejects below minimum", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.NewFromInt(100))
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)

		res := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromFloat(0.01)})
		if res.Error != ErrBelowMin {
			t.Fatalf("want ErrBelowMin, got %v", res.Error)
		}
	})

	t.Run("rejects above maximum", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.NewFromInt(100000))
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)

		res := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(20000)})
		if res.Error != ErrAboveMax {
			t.Fatalf("want ErrAboveMax, got %v", res.Error)
		}
	})

	t.Run("rejects auto-cashout target below 1.01", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.NewFromInt(100))
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		target := decimal.NewFromFloat(1.00)

		res := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10), AutoCashoutTarget: &target})
		if res.Error != ErrInvalidAutoTarget {
			t.Fatalf("want ErrInvalidAutoTarget, got %v", res.Error)
		}
	})

	t.Run("rejects insufficient funds", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.NewFromInt(1))
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)

		res := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10)})
		if res.Error != ErrInsufficientFunds {
			t.Fatalf("want ErrInsufficientFunds, got %v", res.Error)
		}
	})

	t.Run("rejects rate-limited second attempt on same slot", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.NewFromInt(100))
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)

		first := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10)})
		if first.Error != ErrNone {
			t.Fatalf("first bet should succeed, got %v", first.Error)
		}
		round.Bets = NewBetBook() // clear so duplicate-bet isn't what trips the second attempt
		second := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10)})
		if second.Error != ErrRateLimited {
			t.Fatalf("want ErrRateLimited, got %v", second.Error)
		}
	})

	t.Run("accepts a valid bet and debits the wallet", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.NewFromInt(100))
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)

		res := e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10)})
		if res.Error != ErrNone {
			t.Fatalf("unexpected error: %v", res.Error)
		}
		if got := wallet.balance("alice"); !got.Equal(decimal.NewFromInt(90)) {
			t.Fatalf("balance = %s, want 90", got)
		}
		if round.Bets.Get("alice", 1) == nil {
			t.Fatal("bet should be recorded in the bet book")
		}
	})
}

func TestEngine_ProcessCashout_Preconditions(t *testing.T) {
	cfg := testConfig()

	t.Run("rejects when round not running", func(t *testing.T) {
		wallet := newFakeWallet()
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)

		res := e.processCashout(round, CashoutRequest{UserID: "alice", Slot: 1})
		if res.Error != ErrGameNotRunning {
			t.Fatalf("want ErrGameNotRunning, got %v", res.Error)
		}
	})

	t.Run("rejects invalid slot", func(t *testing.T) {
		wallet := newFakeWallet()
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		round.State = StatusRunning

		res := e.processCashout(round, CashoutRequest{UserID: "alice", Slot: 9})
		if res.Error != ErrInvalidSlot {
			t.Fatalf("want ErrInvalidSlot, got %v", res.Error)
		}
	})

	t.Run("rejects already-crashed curve", func(t *testing.T) {
		wallet := newFakeWallet()
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		round.State = StatusRunning
		round.Curves[0].Crashed = true

		res := e.processCashout(round, CashoutRequest{UserID: "alice", Slot: 1})
		if res.Error != ErrCurveAlreadyCrash {
			t.Fatalf("want ErrCurveAlreadyCrash, got %v", res.Error)
		}
	})

	t.Run("rejects when no bet exists", func(t *testing.T) {
		wallet := newFakeWallet()
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		round.State = StatusRunning

		res := e.processCashout(round, CashoutRequest{UserID: "alice", Slot: 1})
		if res.Error != ErrNoBet {
			t.Fatalf("want ErrNoBet, got %v", res.Error)
		}
	})

	t.Run("rejects when bet already settled", func(t *testing.T) {
		wallet := newFakeWallet()
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		round.State = StatusRunning
		round.Bets.Place(&Bet{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10), Status: BetLost})

		res := e.processCashout(round, CashoutRequest{UserID: "alice", Slot: 1})
		if res.Error != ErrAlreadySettled {
			t.Fatalf("want ErrAlreadySettled, got %v", res.Error)
		}
	})

	t.Run("rejects claimed multiplier past the crash point", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.Zero)
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		round.State = StatusRunning
		round.Curves[0].CrashPoint = decimal.NewFromFloat(1.50)
		round.Curves[0].CurrentMultiplier = decimal.NewFromFloat(1.60)
		round.Bets.Place(&Bet{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10), Status: BetActive})
		claimed := decimal.NewFromFloat(1.55)

		res := e.processCashout(round, CashoutRequest{UserID: "alice", Slot: 1, ClaimedMultiplier: &claimed})
		if res.Error != ErrTooLate {
			t.Fatalf("want ErrTooLate, got %v", res.Error)
		}
	})

	t.Run("settles at the current multiplier and credits the wallet", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.seed("alice", decimal.Zero)
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		round.State = StatusRunning
		round.Curves[0].CrashPoint = decimal.NewFromFloat(3.00)
		round.Curves[0].CurrentMultiplier = decimal.NewFromFloat(1.80)
		bet := &Bet{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10), Status: BetActive}
		round.Bets.Place(bet)

		res := e.processCashout(round, CashoutRequest{UserID: "alice", Slot: 1})
		if res.Error != ErrNone {
			t.Fatalf("unexpected error: %v", res.Error)
		}
		if !res.Payout.Equal(decimal.NewFromInt(18)) {
			t.Fatalf("payout = %s, want 18", res.Payout)
		}
		if bet.Status != BetCashedOut {
			t.Fatalf("bet status = %v, want CASHED_OUT", bet.Status)
		}
		if got := wallet.balance("alice"); !got.Equal(decimal.NewFromInt(18)) {
			t.Fatalf("balance = %s, want 18", got)
		}
	})

	t.Run("marks bet cashed out even when the wallet credit fails", func(t *testing.T) {
		wallet := newFakeWallet()
		wallet.failCredit = true
		e := newTestEngine(cfg, wallet)
		round := freshRound(1)
		round.State = StatusRunning
		round.Curves[0].CrashPoint = decimal.NewFromFloat(3.00)
		round.Curves[0].CurrentMultiplier = decimal.NewFromFloat(1.80)
		bet := &Bet{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10), Status: BetActive}
		round.Bets.Place(bet)

		res := e.processCashout(round, CashoutRequest{UserID: "alice", Slot: 1})
		if res.Error != ErrNone {
			t.Fatalf("unexpected error: %v", res.Error)
		}
		if bet.Status != BetCashedOut {
			t.Fatal("bet must still settle as CASHED_OUT when the credit fails")
		}
	})
}

func TestEngine_AutoCashoutScan(t *testing.T) {
	cfg := testConfig()
	wallet := newFakeWallet()
	wallet.seed("alice", decimal.Zero)
	e := newTestEngine(cfg, wallet)
	round := freshRound(1)
	round.State = StatusRunning
	round.Curves[0].CrashPoint = decimal.NewFromFloat(3.00)
	round.Curves[0].CurrentMultiplier = decimal.NewFromFloat(2.00)

	target := decimal.NewFromFloat(2.00)
	bet := &Bet{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10), Status: BetActive, AutoCashoutTarget: &target}
	round.Bets.Place(bet)

	e.autoCashoutScan(round)

	if bet.Status != BetCashedOut {
		t.Fatalf("bet status = %v, want CASHED_OUT", bet.Status)
	}
	if got := wallet.balance("alice"); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("balance = %s, want 20", got)
	}
}

func TestEngine_Tick_AutoCashoutAtCrashPointSettlesBeforeLoss(t *testing.T) {
	cfg := testConfig()
	wallet := newFakeWallet()
	wallet.seed("alice", decimal.Zero)
	e := newTestEngine(cfg, wallet)

	round := freshRound(1)
	round.State = StatusRunning
	// 200ms of elapsed growth at tickGrowthRate floors to exactly 1.01x.
	round.StartedAt = time.Now().Add(-200 * time.Millisecond)
	round.Curves[0].CrashPoint = decimal.NewFromFloat(1.01)
	round.Curves[0].CurrentMultiplier = decimal.NewFromFloat(1.00)

	target := decimal.NewFromFloat(1.01)
	bet := &Bet{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10), Status: BetActive, AutoCashoutTarget: &target}
	round.Bets.Place(bet)

	e.tick(round)

	if !round.Curves[0].Crashed {
		t.Fatal("curve should have crashed this tick at its crash point")
	}
	if bet.Status != BetCashedOut {
		t.Fatalf("bet status = %v, want CASHED_OUT — a target equal to the crash point must settle before the crash loss sweep", bet.Status)
	}
	wantPayout := decimal.NewFromInt(10).Mul(decimal.NewFromFloat(1.01))
	if got := wallet.balance("alice"); !got.Equal(wantPayout) {
		t.Fatalf("balance = %s, want %s (amount * 1.01x payout)", got, wantPayout)
	}
}

func TestEngine_CrashCurve_SettlesActiveBetsAsLost(t *testing.T) {
	cfg := testConfig()
	wallet := newFakeWallet()
	e := newTestEngine(cfg, wallet)
	round := freshRound(1)
	round.State = StatusRunning

	bet := &Bet{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10), Status: BetActive}
	round.Bets.Place(bet)
	cashedOut := &Bet{UserID: "bob", Slot: 1, Amount: decimal.NewFromInt(5), Status: BetCashedOut}
	round.Bets.Place(cashedOut)

	e.crashCurve(round, round.Curves[0])

	if bet.Status != BetLost {
		t.Fatalf("active bet should become LOST, got %v", bet.Status)
	}
	if bet.Profit == nil || !bet.Profit.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("loss profit should be -amount, got %v", bet.Profit)
	}
	if cashedOut.Status != BetCashedOut {
		t.Fatal("already-settled bet must not be re-settled")
	}
}

func TestEngine_FullRoundLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCrashPoint = decimal.NewFromFloat(1.01) // force an early crash so the test is fast
	wallet := newFakeWallet()
	wallet.seed("alice", decimal.NewFromInt(100))

	e := newTestEngine(cfg, wallet)
	sub := e.bus.Subscribe(TopicBroadcast)
	defer e.bus.Unsubscribe(TopicBroadcast, sub)

	e.Start()
	defer e.Stop()

	var sawWaiting, sawRunning, sawCrashed bool
	deadline := time.After(2 * time.Second)
	for !sawCrashed {
		select {
		case evt := <-sub:
			if evt.Type == EventStateChange {
				sc := evt.Data.(StateChangeEvent)
				switch sc.State {
				case StatusWaiting:
					sawWaiting = true
				case StatusRunning:
					sawRunning = true
				case StatusCrashed:
					sawCrashed = true
				}
			}
		case <-deadline:
			t.Fatal("round did not reach CRASHED within the deadline")
		}
	}

	if !sawWaiting || !sawRunning || !sawCrashed {
		t.Fatalf("expected to observe WAITING, RUNNING and CRASHED; got waiting=%v running=%v crashed=%v", sawWaiting, sawRunning, sawCrashed)
	}

	hist := e.History()
	if len(hist) == 0 {
		t.Fatal("expected at least one history entry after a round completed")
	}
}

func BenchmarkEngine_ProcessPlaceBet(b *testing.B) {
	cfg := testConfig()
	wallet := newFakeWallet()
	wallet.seed("alice", decimal.NewFromInt(1_000_000))
	e := newTestEngine(cfg, wallet)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		round := freshRound(1)
		e.processPlaceBet(round, PlaceBetRequest{UserID: "alice", Slot: 1, Amount: decimal.NewFromInt(10)})
	}
}
