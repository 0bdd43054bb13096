package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventType names a ledger event. Values double as redis channel suffixes.
type EventType string

const (
	EventInitialized      EventType = "fee_ledger.initialized"
	EventFeeRedeemed      EventType = "fee_ledger.fee_redeemed"
	EventFeePerClaimReset EventType = "fee_ledger.fee_per_claim_reset"
	EventPoolFunded       EventType = "fee_ledger.pool_funded"
)

// Event is an entry of the ledger's audit log.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        EventType       `json:"type"`
	Validator   *common.Address `json:"validator,omitempty"`
	Token       *common.Address `json:"token,omitempty"`
	Amount      *uint256.Int    `json:"amount,omitempty"`
	FeePerClaim *uint256.Int    `json:"feePerClaim,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func newEvent(t EventType) Event {
	return Event{ID: uuid.New(), Type: t, CreatedAt: time.Now().UTC()}
}

func initializedEvent(token common.Address, fee *uint256.Int) Event {
	ev := newEvent(EventInitialized)
	ev.Token = &token
	ev.FeePerClaim = new(uint256.Int).Set(fee)
	return ev
}

func feeRedeemedEvent(validator common.Address, amount *uint256.Int) Event {
	ev := newEvent(EventFeeRedeemed)
	ev.Validator = &validator
	ev.Amount = new(uint256.Int).Set(amount)
	return ev
}

func feePerClaimResetEvent(fee *uint256.Int) Event {
	ev := newEvent(EventFeePerClaimReset)
	ev.FeePerClaim = new(uint256.Int).Set(fee)
	return ev
}

func poolFundedEvent(token common.Address, amount *uint256.Int) Event {
	ev := newEvent(EventPoolFunded)
	ev.Token = &token
	ev.Amount = new(uint256.Int).Set(amount)
	return ev
}
