package game

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"aviator/internal/config"
	"aviator/internal/money"
)

// Engine is the round actor: the single goroutine that owns the active
// round, its bet book, and the tick timer. Every mutation to round
// state arrives as a request on placeBetCh or cashoutCh, or as a timer
// firing inside run's own loop — there is no other caller of the
// unexported process* methods.
type Engine struct {
	cfg           *config.Config
	bus           *EventBus
	wallet        WalletPort
	persistence   PersistenceAdapter
	seeds         *SeedStore
	limiter       *BetRateLimiter
	historyMirror *HistoryMirror

	mu             sync.RWMutex
	current        *Round
	sequenceNumber int64
	history        []HistoryEntry

	placeBetCh chan placeBetEnvelope
	cashoutCh  chan cashoutEnvelope
	stopCh     chan struct{}
	doneCh     chan struct{}
}

type placeBetEnvelope struct {
	req  PlaceBetRequest
	resp chan PlaceBetResult
}

type cashoutEnvelope struct {
	req  CashoutRequest
	resp chan CashoutResult
}

// NewEngine wires an Engine from its configured collaborators. The
// queues are generously buffered so a burst of inbound traffic queues
// rather than blocking the gateway's I/O goroutines; PlaceBet/Cashout
// fail fast with a queue-full response instead of growing unbounded.
func NewEngine(cfg *config.Config, bus *EventBus, wallet WalletPort, persistence PersistenceAdapter, seeds *SeedStore) *Engine {
	return &Engine{
		cfg:         cfg,
		bus:         bus,
		wallet:      wallet,
		persistence: persistence,
		seeds:       seeds,
		limiter:     NewBetRateLimiter(cfg.BetCooldownMs),
		placeBetCh:  make(chan placeBetEnvelope, 1000),
		cashoutCh:   make(chan cashoutEnvelope, 1000),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// SetHistoryMirror attaches a Redis-backed write-through cache for the
// crash-history ring; call it once before Start. A nil mirror (the
// zero value) is fine — History() still serves from the in-process
// ring either way.
func (e *Engine) SetHistoryMirror(m *HistoryMirror) {
	e.historyMirror = m
}

// Start launches the round actor in its own goroutine.
func (e *Engine) Start() {
	go e.run()
}

// Stop cancels the tick timer and lets any in-flight cashout complete
// on its own; the current round is abandoned in whatever state it is
// in and no new round begins. It blocks until the actor goroutine has
// exited.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// CurrentView returns a wire-safe snapshot of the active round.
func (e *Engine) CurrentView() (PublicView, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return PublicView{}, false
	}
	return e.current.View(), true
}

// History returns the bounded crash-history ring, most recent last.
func (e *Engine) History() []HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

// PlaceBet submits a bet request to the round actor and waits for its
// synchronous result, mirroring the response-channel pattern used for
// every other actor request.
func (e *Engine) PlaceBet(req PlaceBetRequest) PlaceBetResult {
	respCh := make(chan PlaceBetResult, 1)
	select {
	case e.placeBetCh <- placeBetEnvelope{req: req, resp: respCh}:
		select {
		case resp := <-respCh:
			return resp
		case <-time.After(5 * time.Second):
			return PlaceBetResult{Error: ErrWalletUnavailable}
		}
	default:
		return PlaceBetResult{Error: ErrRateLimited}
	}
}

// Cashout submits a cashout request to the round actor and waits for
// its synchronous result.
func (e *Engine) Cashout(req CashoutRequest) CashoutResult {
	respCh := make(chan CashoutResult, 1)
	select {
	case e.cashoutCh <- cashoutEnvelope{req: req, resp: respCh}:
		select {
		case resp := <-respCh:
			return resp
		case <-time.After(500 * time.Millisecond):
			return CashoutResult{Error: ErrWalletUnavailable}
		}
	default:
		return CashoutResult{Error: ErrRateLimited}
	}
}

func (e *Engine) run() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			return
		default:
			if !e.runRound() {
				return
			}
		}
	}
}

// runRound drives one full WAITING -> RUNNING -> CRASHED cycle. It
// returns false if the actor was asked to stop mid-round.
func (e *Engine) runRound() bool {
	e.mu.Lock()
	e.sequenceNumber++
	seq := e.sequenceNumber
	serverSeed := DeriveRoundServerSeed(e.seeds.MasterSeed(), seq)
	commitment := HashCommitment(serverSeed)
	clientSeed := GenerateSeed()
	nonce := int(seq)

	curves := make([]*CurveState, 0, e.cfg.CurveCount)
	for slot := 1; slot <= e.cfg.CurveCount; slot++ {
		tag := ""
		if slot == 2 {
			tag = dragonTag
		}
		crashPoint := GenerateCrashPoint(serverSeed, clientSeed, nonce, tag, e.cfg.HouseEdge, e.cfg.MaxCrashPoint)
		curves = append(curves, &CurveState{
			Slot:              slot,
			CrashPoint:        crashPoint,
			CurrentMultiplier: decimal.NewFromFloat(MinMultiplier),
		})
	}

	round := &Round{
		RoundID:              uuid.New().String(),
		SequenceNumber:       seq,
		State:                StatusWaiting,
		ServerSeed:           serverSeed,
		ServerSeedCommitment: commitment,
		ClientSeed:           clientSeed,
		Nonce:                nonce,
		Curves:               curves,
		Bets:                 NewBetBook(),
	}
	e.current = round
	e.mu.Unlock()

	log.Printf("[GAME] round %s (seq %d) entering WAITING, commitment=%s", round.RoundID, seq, commitment[:16])
	e.publishStateChange(round)

	if !e.waitingPhase(round) {
		return false
	}

	e.mu.Lock()
	round.State = StatusRunning
	round.StartedAt = time.Now()
	e.mu.Unlock()
	log.Printf("[GAME] round %s entering RUNNING", round.RoundID)
	e.publishStateChange(round)

	if !e.runningPhase(round) {
		return false
	}

	e.mu.Lock()
	round.State = StatusCrashed
	round.CrashedAt = time.Now()
	crashPoints := make([]string, len(round.Curves))
	for i, c := range round.Curves {
		crashPoints[i] = c.CrashPoint.StringFixed(2)
	}
	entry := HistoryEntry{
		RoundID:        round.RoundID,
		SequenceNumber: round.SequenceNumber,
		CrashPoints:    crashPoints,
		CrashedAt:      round.CrashedAt,
	}
	e.history = append(e.history, entry)
	if len(e.history) > e.cfg.MaxHistory {
		e.history = e.history[len(e.history)-e.cfg.MaxHistory:]
	}
	e.mu.Unlock()

	e.historyMirror.Append(context.Background(), entry)

	log.Printf("[GAME] round %s CRASHED at %v", round.RoundID, crashPoints)
	e.bus.PublishBroadcast(Event{Type: EventRoundCrash, Data: CrashedEvent{CrashPoints: crashPoints, SequenceNumber: round.SequenceNumber}})
	e.publishStateChange(round)

	select {
	case <-time.After(e.cfg.CrashedMs):
	case <-e.stopCh:
		return false
	}
	return true
}

func (e *Engine) publishStateChange(round *Round) {
	e.bus.PublishBroadcast(Event{
		Type: EventStateChange,
		Data: StateChangeEvent{State: round.State, Round: round.View()},
	})
}

func (e *Engine) waitingPhase(round *Round) bool {
	timer := time.NewTimer(e.cfg.WaitingMs)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return true
		case env := <-e.placeBetCh:
			e.safeProcessPlaceBet(round, env)
		case env := <-e.cashoutCh:
			e.safeProcessCashout(round, env)
		case <-e.stopCh:
			return false
		}
	}
}

func (e *Engine) runningPhase(round *Round) bool {
	ticker := time.NewTicker(e.cfg.TickMs)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.safeTick(round) {
				return true
			}
		case env := <-e.placeBetCh:
			e.safeProcessPlaceBet(round, env)
		case env := <-e.cashoutCh:
			e.safeProcessCashout(round, env)
		case <-e.stopCh:
			return false
		}
	}
}

// safeTick recovers a panic so a single bad tick cannot stall the
// actor loop. It reports whether every curve in the round has now
// crashed.
func (e *Engine) safeTick(round *Round) (allCrashed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[GAME] recovered panic during tick for round %s: %v", round.RoundID, r)
		}
	}()
	return e.tick(round)
}

const tickGrowthRate = 6e-5 // k in M(t) = exp(k*t), t in milliseconds

func (e *Engine) tick(round *Round) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsedMs := time.Since(round.StartedAt).Milliseconds()
	rawMultiplier := math.Exp(tickGrowthRate * float64(elapsedMs))
	flooredMultiplier := decimal.NewFromFloat(math.Floor(rawMultiplier*100) / 100)

	for _, curve := range round.Curves {
		if !curve.Crashed {
			curve.CurrentMultiplier = flooredMultiplier
		}
	}

	// Auto-cashout runs against this tick's multiplier before crash
	// settlement, so a target reached on the same tick the curve
	// crashes (including target == crashPoint) still cashes out.
	e.autoCashoutScan(round)

	for _, curve := range round.Curves {
		if !curve.Crashed && flooredMultiplier.GreaterThanOrEqual(curve.CrashPoint) {
			e.crashCurve(round, curve)
		}
	}

	curveViews := make([]CurveView, len(round.Curves))
	for i, c := range round.Curves {
		curveViews[i] = CurveView{Slot: c.Slot, CurrentMultiplier: c.CurrentMultiplier.StringFixed(2), Crashed: c.Crashed}
	}
	e.bus.PublishBroadcast(Event{Type: EventRoundUpdate, Data: TickEvent{Curves: curveViews, ElapsedMs: elapsedMs}})

	return round.AllCrashed()
}

// crashCurve settles every still-ACTIVE bet on curve.Slot as LOST and,
// for a dual-curve round where other slots are still running, emits
// curve_crashed rather than the terminal crashed event.
func (e *Engine) crashCurve(round *Round, curve *CurveState) {
	curve.Crashed = true

	for _, bet := range round.Bets.SettleLosses(curve.Slot) {
		profit := bet.Amount.Neg()
		bet.Profit = &profit
		go e.persistence.CreateSettledBet(context.Background(), settledRecordFromLoss(round, bet, curve))
	}

	if len(round.Curves) > 1 && !round.AllCrashed() {
		e.bus.PublishBroadcast(Event{
			Type: EventCurveCrashed,
			Data: CurveCrashedEvent{Slot: curve.Slot, CrashPoint: curve.CrashPoint.StringFixed(2), SequenceNumber: round.SequenceNumber},
		})
	}
}

// autoCashoutScan evaluates every still-ACTIVE bet whose slot has not
// crashed and whose target has been reached without exceeding the
// slot's crash point, in the bet book's
// insertion order, settling each one fully before moving to the next
// so no bet is double-evaluated within the same tick.
func (e *Engine) autoCashoutScan(round *Round) {
	for _, curve := range round.Curves {
		if curve.Crashed {
			continue
		}
		for _, bet := range round.Bets.ActiveAutoCashoutCandidates(curve.Slot, curve.CurrentMultiplier) {
			// A tick can overshoot the crash point; a target above it
			// never fires and the bet is settled LOST by crashCurve.
			if bet.AutoCashoutTarget.GreaterThan(curve.CrashPoint) {
				continue
			}
			e.settleCashout(round, bet, *bet.AutoCashoutTarget, false)
		}
	}
}

func (e *Engine) safeProcessPlaceBet(round *Round, env placeBetEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[GAME] recovered panic during placeBet for round %s: %v", round.RoundID, r)
			env.resp <- PlaceBetResult{Error: ErrWalletUnavailable}
		}
	}()
	env.resp <- e.processPlaceBet(round, env.req)
}

// processPlaceBet runs every precondition in the exact order a
// rejection must be reported.
func (e *Engine) processPlaceBet(round *Round, req PlaceBetRequest) PlaceBetResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot := req.Slot
	if slot == 0 {
		slot = 1
	}

	if round.State != StatusWaiting {
		return PlaceBetResult{Error: ErrBettingClosed}
	}
	if errCode := ValidateSlot(slot, len(round.Curves)); errCode != ErrNone {
		return PlaceBetResult{Error: errCode}
	}
	if round.Bets.Get(req.UserID, slot) != nil {
		return PlaceBetResult{Error: ErrDuplicateBet}
	}
	if errCode := ValidateAmount(req.Amount, e.cfg.MinBet, e.cfg.MaxBet); errCode != ErrNone {
		return PlaceBetResult{Error: errCode}
	}
	if errCode := ValidateAutoCashoutTarget(req.AutoCashoutTarget); errCode != ErrNone {
		return PlaceBetResult{Error: errCode}
	}
	if !e.limiter.Allow(req.UserID, slot, time.Now()) {
		return PlaceBetResult{Error: ErrRateLimited}
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	ok, err := e.wallet.Debit(context.Background(), req.UserID, currency, req.Amount)
	if err != nil {
		log.Printf("[WALLET] debit error for user %s: %v", req.UserID, err)
		return PlaceBetResult{Error: ErrWalletUnavailable}
	}
	if !ok {
		return PlaceBetResult{Error: ErrInsufficientFunds}
	}

	bet := &Bet{
		BetID:             uuid.New().String(),
		UserID:            req.UserID,
		Slot:              slot,
		Amount:            req.Amount,
		Currency:          currency,
		AutoCashoutTarget: req.AutoCashoutTarget,
		Status:            BetActive,
		PlacedAt:          time.Now(),
	}
	round.Bets.Place(bet)
	e.seeds.AdvanceNonce(req.UserID)

	e.bus.PublishBroadcast(Event{
		Type: EventBetPlaced,
		Data: BetPlacedEvent{UserID: bet.UserID, BetID: bet.BetID, Amount: bet.Amount.String(), Slot: bet.Slot, Currency: bet.Currency},
	})
	e.bus.Publish(bet.UserID, Event{
		Type: EventBalanceUpdate,
		Data: BalanceUpdateEvent{UserID: bet.UserID, Delta: bet.Amount.Neg().String(), Reason: ReasonBetPlaced},
	})

	return PlaceBetResult{Bet: bet}
}

func (e *Engine) safeProcessCashout(round *Round, env cashoutEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[GAME] recovered panic during cashout for round %s: %v", round.RoundID, r)
			env.resp <- CashoutResult{Error: ErrWalletUnavailable}
		}
	}()
	env.resp <- e.processCashout(round, env.req)
}

// processCashout implements the manual-cashout half of the cashout
// coordinator; triggered auto-cashouts go through settleCashout
// directly from the tick loop instead, where autoCashoutScan compares
// the target with the crash point and never reports TOO_LATE.
func (e *Engine) processCashout(round *Round, req CashoutRequest) CashoutResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot := req.Slot
	if slot == 0 {
		slot = 1
	}

	if round.State != StatusRunning {
		return CashoutResult{Error: ErrGameNotRunning}
	}
	curve := round.Curve(slot)
	if curve == nil {
		return CashoutResult{Error: ErrInvalidSlot}
	}
	if curve.Crashed {
		return CashoutResult{Error: ErrCurveAlreadyCrash}
	}
	bet := round.Bets.Get(req.UserID, slot)
	if bet == nil {
		return CashoutResult{Error: ErrNoBet}
	}
	if bet.Status != BetActive {
		return CashoutResult{Error: ErrAlreadySettled}
	}

	effective := curve.CurrentMultiplier
	if req.ClaimedMultiplier != nil {
		effective = *req.ClaimedMultiplier
	}
	if effective.GreaterThan(curve.CrashPoint) {
		return CashoutResult{Error: ErrTooLate}
	}
	if effective.GreaterThan(curve.CurrentMultiplier) {
		effective = curve.CurrentMultiplier
	}

	return e.settleCashout(round, bet, effective, req.Manual || req.ClaimedMultiplier != nil)
}

// settleCashout is the single payout law shared by manual and
// automatic cashouts. Caller MUST already hold e.mu.
func (e *Engine) settleCashout(round *Round, bet *Bet, multiplier decimal.Decimal, manual bool) CashoutResult {
	payout := money.Payout(bet.Amount, multiplier)
	profit := payout.Sub(bet.Amount)

	ok, err := e.wallet.Credit(context.Background(), bet.UserID, bet.Currency, payout)
	if err != nil || !ok {
		log.Printf("[WALLET] credit failed for user %s bet %s (payout %s): ok=%v err=%v", bet.UserID, bet.BetID, payout, ok, err)
	}

	bet.Status = BetCashedOut
	bet.CashedOutAt = &multiplier
	bet.Profit = &profit

	e.bus.PublishBroadcast(Event{
		Type: EventCashout,
		Data: CashoutEvent{UserID: bet.UserID, Slot: bet.Slot, Multiplier: multiplier.StringFixed(2), Profit: profit.String(), Manual: manual},
	})
	e.bus.Publish(bet.UserID, Event{
		Type: EventBalanceUpdate,
		Data: BalanceUpdateEvent{UserID: bet.UserID, Delta: payout.String(), Reason: ReasonCashout},
	})

	go e.persistence.CreateSettledBet(context.Background(), settledRecordFromCashout(round, bet, multiplier))

	return CashoutResult{Bet: bet, Multiplier: multiplier, Payout: payout, Profit: profit}
}

func settledRecordFromCashout(round *Round, bet *Bet, multiplier decimal.Decimal) SettledBetRecord {
	slotCurve := round.Curve(bet.Slot)
	variant := "single"
	if len(round.Curves) > 1 {
		variant = fmt.Sprintf("slot-%d", bet.Slot)
	}
	return SettledBetRecord{
		BetID:             bet.BetID,
		UserID:            bet.UserID,
		Variant:           variant,
		Currency:          bet.Currency,
		Amount:            bet.Amount,
		Multiplier:        &multiplier,
		Payout:            money.Payout(bet.Amount, multiplier),
		Profit:            *bet.Profit,
		ServerSeed:        round.ServerSeed,
		Commitment:        round.ServerSeedCommitment,
		ClientSeed:        round.ClientSeed,
		Nonce:             round.Nonce,
		SequenceNumber:    round.SequenceNumber,
		CrashPoint:        slotCurve.CrashPoint,
		AutoCashoutTarget: bet.AutoCashoutTarget,
		CashedOutAt:       bet.CashedOutAt,
		IsWin:             true,
		SettledAt:         time.Now(),
	}
}

func settledRecordFromLoss(round *Round, bet *Bet, curve *CurveState) SettledBetRecord {
	variant := "single"
	if len(round.Curves) > 1 {
		variant = fmt.Sprintf("slot-%d", bet.Slot)
	}
	return SettledBetRecord{
		BetID:             bet.BetID,
		UserID:            bet.UserID,
		Variant:           variant,
		Currency:          bet.Currency,
		Amount:            bet.Amount,
		Payout:            decimal.Zero,
		Profit:            *bet.Profit,
		ServerSeed:        round.ServerSeed,
		Commitment:        round.ServerSeedCommitment,
		ClientSeed:        round.ClientSeed,
		Nonce:             round.Nonce,
		SequenceNumber:    round.SequenceNumber,
		CrashPoint:        curve.CrashPoint,
		AutoCashoutTarget: bet.AutoCashoutTarget,
		IsWin:             false,
		SettledAt:         time.Now(),
	}
}
