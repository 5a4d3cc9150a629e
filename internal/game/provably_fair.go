package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	// MinMultiplier is the floor of any crash point.
	MinMultiplier = 1.00
	// dragonTag is appended to the HMAC message for the dual-curve
	// variant's second curve
	dragonTag = "dragon2"
	// hexPrefixLen is the number of leading hex characters (52 bits) taken
	// from the HMAC digest
	hexPrefixLen = 13
	twoPow52     = 4503599627370496.0
)

// DeriveR turns (serverSeed, clientSeed, nonce[, variantTag]) into the
// uniform real r in [0, 1) that seeds the crash-point formula. Kept
// separate from the crash-point rounding so the Verification API can
// surface r directly if ever needed, and so tests can pin exact bit
// patterns.
func DeriveR(serverSeed, clientSeed string, nonce int, variantTag string) float64 {
	msg := fmt.Sprintf("%s:%d", clientSeed, nonce)
	if variantTag != "" {
		msg += ":" + variantTag
	}

	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(msg))
	digest := h.Sum(nil)
	digestHex := hex.EncodeToString(digest)

	hVal := new(big.Int)
	hVal.SetString(digestHex[:hexPrefixLen], 16)

	return float64(hVal.Uint64()) / twoPow52
}

// CrashPointFromR turns a uniform real r into a crash point, given the
// configured house edge and cap. The result is NOT branched on
// r < houseEdge — the instant-bust rate is a side effect of the
// floor-rounding, never a special case.
func CrashPointFromR(r, houseEdge, maxCrashPoint float64) decimal.Decimal {
	raw := (1 - houseEdge) / (1 - r)
	floored := math.Floor(raw*100) / 100
	if floored < MinMultiplier {
		floored = MinMultiplier
	}
	if floored > maxCrashPoint {
		floored = maxCrashPoint
	}
	return decimal.NewFromFloat(floored)
}

// GenerateCrashPoint is the full derivation of one curve's crash point.
func GenerateCrashPoint(serverSeed, clientSeed string, nonce int, variantTag string, houseEdge, maxCrashPoint decimal.Decimal) decimal.Decimal {
	r := DeriveR(serverSeed, clientSeed, nonce, variantTag)
	edge, _ := houseEdge.Float64()
	cap, _ := maxCrashPoint.Float64()
	return CrashPointFromR(r, edge, cap)
}

// GenerateSeed creates a cryptographically secure 32-byte hex seed.
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment computes SHA-256(seed) hex-encoded — the public
// commitment published at WAITING.
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveRoundServerSeed derives a round's server seed deterministically
// from the process master seed and the round's sequence number, so the
// full round history can be replayed from (masterSeed, sequenceNumber)
// alone.
func DeriveRoundServerSeed(masterSeed string, sequenceNumber int64) string {
	msg := fmt.Sprintf("round:%d", sequenceNumber)
	h := hmac.New(sha256.New, []byte(masterSeed))
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify is the stateless Verification API: given the raw seed
// material it recomputes the crash point, trusting the caller's seeds.
// Fails with ErrInvalidVariant for an unrecognised variant.
func Verify(serverSeed, clientSeed string, nonce int, variant string, houseEdge, maxCrashPoint decimal.Decimal) (decimal.Decimal, ErrorCode) {
	tag, ok := variantTag(variant)
	if !ok {
		return decimal.Zero, ErrInvalidVariant
	}
	return GenerateCrashPoint(serverSeed, clientSeed, nonce, tag, houseEdge, maxCrashPoint), ErrNone
}

// VerifyWithCommitment is the hardened verifier: it additionally
// asserts SHA-256(serverSeed) equals the previously-published
// commitment before trusting the recomputed crash point, closing the
// gap where Verify would otherwise accept any caller-supplied seed at
// face value.
func VerifyWithCommitment(commitment, serverSeed, clientSeed string, nonce int, variant string, houseEdge, maxCrashPoint decimal.Decimal) (decimal.Decimal, ErrorCode, bool) {
	crashPoint, errCode := Verify(serverSeed, clientSeed, nonce, variant, houseEdge, maxCrashPoint)
	if errCode != ErrNone {
		return decimal.Zero, errCode, false
	}
	matches := HashCommitment(serverSeed) == commitment
	return crashPoint, ErrNone, matches
}

func variantTag(variant string) (string, bool) {
	switch variant {
	case "", "single", "curve1":
		return "", true
	case "dragon2", "curve2", "dual":
		return dragonTag, true
	default:
		return "", false
	}
}

// UserSeedState is a player's independent provably-fair seed pair,
// used by the set_client_seed / rotate_seed / get_seed_info wire ops so a
// player can audit their own outcomes without depending on
// any other player's state. It is deliberately decoupled from the
// round's own server seed: the round's curve is shared by every
// bettor in it, while this stream is private per user.
type UserSeedState struct {
	ActiveServerSeed string
	Commitment       string
	ClientSeed       string
	Nonce            int
}

// SeedStore owns the process master seed and every user's rotatable
// seed pair. It is mutated only by RotateSeed, SetClientSeed and
// AdvanceNonce, plus the lazy provisioning of a user's first seed
// pair, matching the "seed store is owned by the RNG component" rule.
type SeedStore struct {
	mu                sync.Mutex
	masterSeed        string
	defaultClientSeed string
	users             map[string]*UserSeedState
}

// NewSeedStore creates a SeedStore with a freshly generated master
// seed, generated once at process start.
func NewSeedStore() *SeedStore {
	return &SeedStore{
		masterSeed:        GenerateSeed(),
		defaultClientSeed: GenerateSeed(),
		users:             make(map[string]*UserSeedState),
	}
}

// MasterSeed returns the process-local master seed used to derive
// round server seeds.
func (s *SeedStore) MasterSeed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterSeed
}

func (s *SeedStore) userState(userID string) *UserSeedState {
	u, ok := s.users[userID]
	if !ok {
		seed := GenerateSeed()
		u = &UserSeedState{
			ActiveServerSeed: seed,
			Commitment:       HashCommitment(seed),
			ClientSeed:       s.defaultClientSeed,
			Nonce:            0,
		}
		s.users[userID] = u
	}
	return u
}

// GetSeedInfo returns the user's current commitment and nonce, lazily
// provisioning a fresh seed pair on first use.
func (s *SeedStore) GetSeedInfo(userID string) (commitment string, nonce int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userState(userID)
	return u.Commitment, u.Nonce
}

// AdvanceNonce increments the user's nonce, called once per bet that
// passes the wallet debit and is placed.
func (s *SeedStore) AdvanceNonce(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userState(userID)
	u.Nonce++
}

// SetClientSeed validates and stores a 1-64 character client seed
// override for the user.
func (s *SeedStore) SetClientSeed(userID, clientSeed string) ErrorCode {
	if len(clientSeed) < 1 || len(clientSeed) > 64 {
		return ErrInvalidSeedLength
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userState(userID)
	u.ClientSeed = clientSeed
	return ErrNone
}

// RotateResult is returned from RotateSeed.
type RotateResult struct {
	PreviousSeed       string
	PreviousCommitment string
	PreviousNonce      int
	NewCommitment      string
}

// RotateSeed reveals the user's current active server seed, generates
// a fresh one, and resets the nonce to 0.
func (s *SeedStore) RotateSeed(userID string) RotateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userState(userID)

	result := RotateResult{
		PreviousSeed:       u.ActiveServerSeed,
		PreviousCommitment: u.Commitment,
		PreviousNonce:      u.Nonce,
	}

	fresh := GenerateSeed()
	u.ActiveServerSeed = fresh
	u.Commitment = HashCommitment(fresh)
	u.Nonce = 0

	result.NewCommitment = u.Commitment
	return result
}
