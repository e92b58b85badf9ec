package domain

import "errors"

// Validation errors: rejected before any state mutation.
var (
	ErrInvalidOutcomeCount       = errors.New("invalid outcome count")
	ErrInvalidOutcomeIndex       = errors.New("invalid outcome index")
	ErrZeroShares                = errors.New("zero shares")
	ErrInvalidLiquidityParameter = errors.New("invalid liquidity parameter")
	ErrInvalidFeeRate            = errors.New("invalid fee rate")
	ErrInvalidAddress            = errors.New("invalid address")
	ErrInvalidDuration           = errors.New("invalid duration")
	ErrInvalidBond               = errors.New("invalid bond")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidCorrection         = errors.New("invalid correction")
	ErrInvalidMarket             = errors.New("invalid market parameters")
	ErrShareLimit                = errors.New("share limit exceeded")
)

// Authorization errors.
var (
	ErrNotOperator          = errors.New("caller is not the operator")
	ErrCreationNotPermitted = errors.New("market creation not permitted")
	ErrNotFeeRecipient      = errors.New("caller is not the fee recipient")
	ErrUnauthorized         = errors.New("unauthorized")
)

// Lifecycle errors: state-machine guard violations.
var (
	ErrMarketHasEnded        = errors.New("market has ended")
	ErrMarketNotEnded        = errors.New("market has not ended")
	ErrMarketAlreadyResolved = errors.New("market already resolved")
	ErrMarketNotResolved     = errors.New("market not resolved")
	ErrAssertionPending      = errors.New("assertion already pending")
	ErrNoPendingAssertion    = errors.New("no pending assertion")
	ErrDisputeWindowOpen     = errors.New("dispute window still open")
	ErrDisputeWindowClosed   = errors.New("dispute window closed")
	ErrSelfDispute           = errors.New("asserter cannot dispute own assertion")
)

// Economic errors: caller-supplied bounds violated by current state.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCostExceedsMax      = errors.New("cost exceeds max")
	ErrProceedsBelowMin    = errors.New("proceeds below min")
	ErrNothingToClaim      = errors.New("nothing to claim")
)

// Infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnavailable   = errors.New("not configured")
)

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return isAny(err, ErrInvalidOutcomeCount, ErrInvalidOutcomeIndex, ErrZeroShares,
		ErrInvalidLiquidityParameter, ErrInvalidFeeRate, ErrInvalidAddress,
		ErrInvalidDuration, ErrInvalidBond, ErrInvalidAmount, ErrInvalidCorrection, ErrInvalidMarket,
		ErrShareLimit)
}

// IsAuthorization reports whether err belongs to the authorization class.
func IsAuthorization(err error) bool {
	return isAny(err, ErrNotOperator, ErrCreationNotPermitted, ErrNotFeeRecipient, ErrUnauthorized)
}

// IsLifecycle reports whether err is a state-machine guard violation.
func IsLifecycle(err error) bool {
	return isAny(err, ErrMarketHasEnded, ErrMarketNotEnded, ErrMarketAlreadyResolved,
		ErrMarketNotResolved, ErrAssertionPending, ErrNoPendingAssertion,
		ErrDisputeWindowOpen, ErrDisputeWindowClosed, ErrSelfDispute)
}

// IsEconomic reports whether err is an economic bound violation. These are
// always safe to retry with updated parameters.
func IsEconomic(err error) bool {
	return isAny(err, ErrInsufficientBalance, ErrCostExceedsMax, ErrProceedsBelowMin, ErrNothingToClaim)
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
