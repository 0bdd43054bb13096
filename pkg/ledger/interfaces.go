package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ClaimAuthority is the external source of validator identity and claim counts.
// Claim counts are cumulative and expected never to decrease.
type ClaimAuthority interface {
	// ValidatorIndex maps a validator address to its stable index.
	ValidatorIndex(ctx context.Context, validator common.Address) (uint64, error)
	// ClaimsByIndex returns the cumulative number of claims made by the validator at index.
	ClaimsByIndex(ctx context.Context, index uint64) (uint64, error)
	// ValidatorCount returns the size of the current validator set.
	ValidatorCount(ctx context.Context) (uint64, error)
	// ValidatorAt returns the address at index. Empty slots return the zero address.
	ValidatorAt(ctx context.Context, index uint64) (common.Address, error)
}

// TokenStore moves the settlement token out of the ledger's pool.
type TokenStore interface {
	Token() common.Address
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	Balance(ctx context.Context) (*uint256.Int, error)
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
}

// Depositor is implemented by token stores whose pool can be credited directly.
type Depositor interface {
	Deposit(ctx context.Context, amount *uint256.Int) error
}

// Irrevocable is implemented by token stores whose transfers take effect
// outside the state store's unit of work and cannot be undone by it.
type Irrevocable interface {
	Irrevocable() bool
}

// StateStore persists the ledger's price, per-index redemption counters and
// the event audit log.
//
// Atomic runs fn as a single unit of work. Every read and write made with the
// ctx handed to fn belongs to that unit, and is discarded when fn returns an
// error. Calling Atomic with a ctx that already carries a unit joins it.
type StateStore interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
	FeePerClaim(ctx context.Context) (fee *uint256.Int, found bool, err error)
	SetFeePerClaim(ctx context.Context, fee *uint256.Int) error
	ClaimsRedeemed(ctx context.Context, index uint64) (uint64, error)
	SetClaimsRedeemed(ctx context.Context, index uint64, count uint64) error
	AppendEvent(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context, limit int) ([]Event, error)
}

// Publisher fans committed events out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// NopPublisher drops every event.
func NopPublisher() Publisher { return nopPublisher{} }
