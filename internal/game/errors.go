package game

// ErrorCode is the stable wire-level error taxonomy. The empty value
// means "no error".
type ErrorCode string

const (
	ErrNone ErrorCode = ""

	// Structural
	ErrNoActiveRound      ErrorCode = "NO_ACTIVE_ROUND"
	ErrBettingClosed      ErrorCode = "BETTING_CLOSED"
	ErrGameNotRunning     ErrorCode = "GAME_NOT_RUNNING"
	ErrCurveAlreadyCrash  ErrorCode = "CURVE_ALREADY_CRASHED"

	// Input
	ErrInvalidSlot       ErrorCode = "INVALID_SLOT"
	ErrBelowMin          ErrorCode = "BELOW_MIN"
	ErrAboveMax          ErrorCode = "ABOVE_MAX"
	ErrInvalidAutoTarget ErrorCode = "INVALID_AUTO_TARGET"
	ErrInvalidVariant    ErrorCode = "INVALID_VARIANT"
	ErrInvalidSeedLength ErrorCode = "INVALID_SEED_LENGTH"

	// State
	ErrDuplicateBet   ErrorCode = "DUPLICATE_BET"
	ErrNoBet          ErrorCode = "NO_BET"
	ErrAlreadySettled ErrorCode = "ALREADY_SETTLED"
	ErrTooLate        ErrorCode = "TOO_LATE"

	// Throttling
	ErrRateLimited ErrorCode = "RATE_LIMITED"

	// Funds
	ErrInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"

	// Authz
	ErrAuthRequired  ErrorCode = "AUTH_REQUIRED"
	ErrAdminRequired ErrorCode = "ADMIN_REQUIRED"

	// Systemic
	ErrWalletUnavailable ErrorCode = "WALLET_UNAVAILABLE"
)
