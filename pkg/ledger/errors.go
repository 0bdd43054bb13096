package ledger

import "errors"

var (
	ErrInvalidAddress  = errors.New("address should not be 0")
	ErrNothingToRedeem = errors.New("nothing to redeem yet")
	// ErrUnderflow is returned when the authority reports fewer claims than
	// were already redeemed for an index.
	ErrUnderflow    = errors.New("claim count below redeemed count")
	ErrUnauthorized = errors.New("caller is not the ledger owner")
	// ErrTransferFailed wraps the token store's cause.
	ErrTransferFailed = errors.New("fee transfer failed")
	// ErrTransferPending is returned by token stores that sent a transfer but
	// could not see it confirmed. The payment may still land, so the ledger
	// records it as made.
	ErrTransferPending    = errors.New("fee transfer sent but not confirmed")
	ErrTooManyValidators  = errors.New("validator set exceeds limit")
	ErrOverflow           = errors.New("fee amount overflows 256 bits")
	ErrInsufficientFunds  = errors.New("insufficient pool balance")
	ErrFundingUnsupported = errors.New("token store does not accept deposits")
)

// ErrInvalidAmount rejects missing prices and non-positive deposits.
var ErrInvalidAmount = errors.New("invalid amount")
