package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

const (
	defaultSnapshotWorkers = 8
	defaultMaxValidators   = 10_000
)

// Options configures a FeeLedger.
type Options struct {
	Logger    *zap.Logger
	Authority ClaimAuthority
	Tokens    TokenStore
	State     StateStore
	// Publisher receives events after their unit of work commits. Defaults to NopPublisher.
	Publisher Publisher
	// Owner is the only caller allowed to change the fee per claim.
	Owner common.Address
	// InitialFeePerClaim is written on first start only; a persisted price wins.
	InitialFeePerClaim *uint256.Int
	// SnapshotWorkers bounds the parallel authority lookups made while
	// snapshotting the validator set.
	SnapshotWorkers int
	// MaxValidators caps the validator count accepted from the authority.
	// Defaults to 10000.
	MaxValidators uint64
}

// FeeLedger settles validator claims at the price in effect when they were made.
type FeeLedger struct {
	logger    *zap.Logger
	authority ClaimAuthority
	tokens    TokenStore
	state     StateStore
	publisher Publisher
	owner     common.Address
	// irrevocable is set when transfers do not roll back with the state store.
	irrevocable   bool
	maxValidators uint64

	mu   sync.Mutex
	pool pond.Pool
}

// Redemption describes one settled validator balance.
type Redemption struct {
	Validator   common.Address `json:"validator"`
	Index       uint64         `json:"index"`
	Claims      uint64         `json:"claims"`
	FeePerClaim *uint256.Int   `json:"feePerClaim"`
	Amount      *uint256.Int   `json:"amount"`
}

// ValidatorState is one row of the ledger state view.
type ValidatorState struct {
	Index       uint64         `json:"index"`
	Address     common.Address `json:"address"`
	TotalClaims uint64         `json:"totalClaims"`
	Redeemed    uint64         `json:"redeemed"`
	Redeemable  uint64         `json:"redeemable"`
	Owed        *uint256.Int   `json:"owed"`
}

// State is a consistent view of the ledger and the current validator set.
type State struct {
	Token       common.Address   `json:"token"`
	Owner       common.Address   `json:"owner"`
	FeePerClaim *uint256.Int     `json:"feePerClaim"`
	PoolBalance *uint256.Int     `json:"poolBalance"`
	Validators  []ValidatorState `json:"validators"`
	ObservedAt  time.Time        `json:"observedAt"`
}

// New builds a ledger and, when the state store holds no price yet, records
// the initial fee per claim together with the initialization event.
func New(ctx context.Context, opts Options) (*FeeLedger, error) {
	if opts.Authority == nil || opts.Tokens == nil || opts.State == nil {
		return nil, errors.New("ledger: authority, tokens and state are required")
	}
	if opts.Owner == (common.Address{}) {
		return nil, fmt.Errorf("ledger owner: %w", ErrInvalidAddress)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = NopPublisher()
	}
	workers := opts.SnapshotWorkers
	if workers <= 0 {
		workers = defaultSnapshotWorkers
	}
	maxValidators := opts.MaxValidators
	if maxValidators == 0 {
		maxValidators = defaultMaxValidators
	}
	irrevocable := false
	if ir, ok := opts.Tokens.(Irrevocable); ok {
		irrevocable = ir.Irrevocable()
	}
	initial := opts.InitialFeePerClaim
	if initial == nil {
		initial = new(uint256.Int)
	}

	l := &FeeLedger{
		logger:    logger.Named("ledger"),
		authority: opts.Authority,
		tokens:    opts.Tokens,
		state:     opts.State,
		publisher: publisher,
		owner:     opts.Owner,

		irrevocable:   irrevocable,
		maxValidators: maxValidators,
		pool:          pond.NewPool(workers),
	}

	err := l.run(ctx, func(ctx context.Context, u *unit) error {
		current, found, err := l.state.FeePerClaim(ctx)
		if err != nil {
			return fmt.Errorf("load fee per claim: %w", err)
		}
		if found {
			l.logger.Info("Ledger state loaded", zap.String("fee_per_claim", current.Dec()))
			return nil
		}
		if err := l.state.SetFeePerClaim(ctx, initial); err != nil {
			return fmt.Errorf("store initial fee per claim: %w", err)
		}
		l.logger.Info("Ledger initialized",
			zap.String("token", l.tokens.Token().Hex()),
			zap.String("fee_per_claim", initial.Dec()))
		return u.emit(ctx, initializedEvent(l.tokens.Token(), initial))
	})
	if err != nil {
		l.pool.StopAndWait()
		return nil, err
	}
	return l, nil
}

// Owner returns the address allowed to reset the fee per claim.
func (l *FeeLedger) Owner() common.Address { return l.owner }

// Token returns the settlement token.
func (l *FeeLedger) Token() common.Address { return l.tokens.Token() }

// Close stops the snapshot worker pool.
func (l *FeeLedger) Close() {
	l.pool.StopAndWait()
}

// FeePerClaim returns the current price.
func (l *FeeLedger) FeePerClaim(ctx context.Context) (*uint256.Int, error) {
	var fee *uint256.Int
	err := l.run(ctx, func(ctx context.Context, _ *unit) error {
		var err error
		fee, err = l.feePerClaim(ctx)
		return err
	})
	return fee, err
}

// RedeemableCount returns the number of claims the validator can still be paid for.
func (l *FeeLedger) RedeemableCount(ctx context.Context, validator common.Address) (uint64, error) {
	if validator == (common.Address{}) {
		return 0, ErrInvalidAddress
	}
	var owed uint64
	err := l.run(ctx, func(ctx context.Context, _ *unit) error {
		pos, err := l.position(ctx, validator)
		if err != nil {
			return err
		}
		owed = pos.owed()
		return nil
	})
	return owed, err
}

// RedeemedCount returns the number of claims already paid to the validator.
func (l *FeeLedger) RedeemedCount(ctx context.Context, validator common.Address) (uint64, error) {
	if validator == (common.Address{}) {
		return 0, ErrInvalidAddress
	}
	var redeemed uint64
	err := l.run(ctx, func(ctx context.Context, _ *unit) error {
		index, err := l.authority.ValidatorIndex(ctx, validator)
		if err != nil {
			return fmt.Errorf("resolve validator %s: %w", validator.Hex(), err)
		}
		redeemed, err = l.state.ClaimsRedeemed(ctx, index)
		if err != nil {
			return fmt.Errorf("load redeemed claims for index %d: %w", index, err)
		}
		return nil
	})
	return redeemed, err
}

// RedeemFee pays the validator for every outstanding claim at the current
// price. Anyone may call it; the payout always goes to the validator.
func (l *FeeLedger) RedeemFee(ctx context.Context, validator common.Address) (*Redemption, error) {
	if validator == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	var out *Redemption
	err := l.run(ctx, func(ctx context.Context, u *unit) error {
		pos, err := l.position(ctx, validator)
		if err != nil {
			return err
		}
		owed := pos.owed()
		if owed == 0 {
			return ErrNothingToRedeem
		}
		fee, err := l.feePerClaim(ctx)
		if err != nil {
			return err
		}
		amount, err := amountFor(owed, fee)
		if err != nil {
			return err
		}
		out, err = l.settle(ctx, u, pos, owed, fee, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResetFeePerClaim settles every validator at the current price and then
// switches to newFee. Only the owner may call it.
//
// When the token store is irrevocable and a transfer fails after others were
// paid, the paid settlements are kept, the price stays unchanged and the
// transfer error is returned. Calling again settles the rest.
func (l *FeeLedger) ResetFeePerClaim(ctx context.Context, caller common.Address, newFee *uint256.Int) error {
	if caller != l.owner {
		return ErrUnauthorized
	}
	if newFee == nil {
		return fmt.Errorf("fee per claim: %w", ErrInvalidAmount)
	}
	var stopped error
	err := l.run(ctx, func(ctx context.Context, u *unit) error {
		fee, err := l.feePerClaim(ctx)
		if err != nil {
			return err
		}
		slots, err := l.snapshot(ctx)
		if err != nil {
			return err
		}

		type pending struct {
			pos    position
			owed   uint64
			amount *uint256.Int
		}
		var (
			settlements []pending
			total       = new(uint256.Int)
		)
		for _, s := range slots {
			if s.address == (common.Address{}) {
				continue
			}
			redeemed, err := l.state.ClaimsRedeemed(ctx, s.index)
			if err != nil {
				return fmt.Errorf("load redeemed claims for index %d: %w", s.index, err)
			}
			pos := position{validator: s.address, index: s.index, total: s.claims, redeemed: redeemed}
			if err := pos.check(); err != nil {
				return err
			}
			owed := pos.owed()
			if owed == 0 {
				continue
			}
			amount, err := amountFor(owed, fee)
			if err != nil {
				return err
			}
			if _, overflow := total.AddOverflow(total, amount); overflow {
				return fmt.Errorf("total owed: %w", ErrOverflow)
			}
			settlements = append(settlements, pending{pos: pos, owed: owed, amount: amount})
		}

		if len(settlements) > 0 {
			balance, err := l.tokens.Balance(ctx)
			if err != nil {
				return fmt.Errorf("%w: read pool balance: %w", ErrTransferFailed, err)
			}
			if balance.Lt(total) {
				return fmt.Errorf("%w: %w: pool holds %s, reset owes %s",
					ErrTransferFailed, ErrInsufficientFunds, balance.Dec(), total.Dec())
			}
		}

		for i, p := range settlements {
			if _, err := l.settle(ctx, u, p.pos, p.owed, fee, p.amount); err != nil {
				if i == 0 || !l.irrevocable || !errors.Is(err, ErrTransferFailed) {
					return err
				}
				l.logger.Warn("Fee per claim reset stopped after partial settlement",
					zap.Int("validators_settled", i),
					zap.Int("validators_remaining", len(settlements)-i),
					zap.Error(err))
				stopped = err
				return nil
			}
		}

		if err := l.state.SetFeePerClaim(ctx, newFee); err != nil {
			return fmt.Errorf("store fee per claim: %w", err)
		}
		l.logger.Info("Fee per claim reset",
			zap.String("previous", fee.Dec()),
			zap.String("fee_per_claim", newFee.Dec()),
			zap.Int("validators_settled", len(settlements)),
			zap.String("total_settled", total.Dec()))
		return u.emit(ctx, feePerClaimResetEvent(newFee))
	})
	if err != nil {
		return err
	}
	return stopped
}

// State returns the price, pool balance and per-validator claim accounting.
func (l *FeeLedger) State(ctx context.Context) (*State, error) {
	var out *State
	err := l.run(ctx, func(ctx context.Context, _ *unit) error {
		fee, err := l.feePerClaim(ctx)
		if err != nil {
			return err
		}
		balance, err := l.tokens.Balance(ctx)
		if err != nil {
			return fmt.Errorf("read pool balance: %w", err)
		}
		slots, err := l.snapshot(ctx)
		if err != nil {
			return err
		}
		st := &State{
			Token:       l.tokens.Token(),
			Owner:       l.owner,
			FeePerClaim: fee,
			PoolBalance: balance,
			Validators:  make([]ValidatorState, 0, len(slots)),
			ObservedAt:  time.Now().UTC(),
		}
		for _, s := range slots {
			if s.address == (common.Address{}) {
				continue
			}
			redeemed, err := l.state.ClaimsRedeemed(ctx, s.index)
			if err != nil {
				return fmt.Errorf("load redeemed claims for index %d: %w", s.index, err)
			}
			pos := position{validator: s.address, index: s.index, total: s.claims, redeemed: redeemed}
			if err := pos.check(); err != nil {
				return err
			}
			owed, err := amountFor(pos.owed(), fee)
			if err != nil {
				return err
			}
			st.Validators = append(st.Validators, ValidatorState{
				Index:       s.index,
				Address:     s.address,
				TotalClaims: s.claims,
				Redeemed:    redeemed,
				Redeemable:  pos.owed(),
				Owed:        owed,
			})
		}
		out = st
		return nil
	})
	return out, err
}

// Fund credits the pool with amount when the token store accepts deposits.
func (l *FeeLedger) Fund(ctx context.Context, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("deposit: %w", ErrInvalidAmount)
	}
	depositor, ok := l.tokens.(Depositor)
	if !ok {
		return ErrFundingUnsupported
	}
	return l.run(ctx, func(ctx context.Context, u *unit) error {
		if err := depositor.Deposit(ctx, amount); err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
		l.logger.Info("Pool funded", zap.String("amount", amount.Dec()))
		return u.emit(ctx, poolFundedEvent(l.tokens.Token(), amount))
	})
}

// Events returns up to limit audit log entries, newest first.
func (l *FeeLedger) Events(ctx context.Context, limit int) ([]Event, error) {
	var out []Event
	err := l.run(ctx, func(ctx context.Context, _ *unit) error {
		var err error
		out, err = l.state.ListEvents(ctx, limit)
		return err
	})
	return out, err
}

// position is one validator's claim accounting at a point in time.
type position struct {
	validator common.Address
	index     uint64
	total     uint64
	redeemed  uint64
}

func (p position) check() error {
	if p.total < p.redeemed {
		return fmt.Errorf("%w: index %d reports %d claims, %d redeemed", ErrUnderflow, p.index, p.total, p.redeemed)
	}
	return nil
}

func (p position) owed() uint64 { return p.total - p.redeemed }

func (l *FeeLedger) position(ctx context.Context, validator common.Address) (position, error) {
	index, err := l.authority.ValidatorIndex(ctx, validator)
	if err != nil {
		return position{}, fmt.Errorf("resolve validator %s: %w", validator.Hex(), err)
	}
	total, err := l.authority.ClaimsByIndex(ctx, index)
	if err != nil {
		return position{}, fmt.Errorf("claims for index %d: %w", index, err)
	}
	redeemed, err := l.state.ClaimsRedeemed(ctx, index)
	if err != nil {
		return position{}, fmt.Errorf("load redeemed claims for index %d: %w", index, err)
	}
	pos := position{validator: validator, index: index, total: total, redeemed: redeemed}
	return pos, pos.check()
}

func (l *FeeLedger) feePerClaim(ctx context.Context) (*uint256.Int, error) {
	fee, found, err := l.state.FeePerClaim(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fee per claim: %w", err)
	}
	if !found {
		return nil, errors.New("ledger not initialized")
	}
	return fee, nil
}

// settle advances the counter before moving tokens so a call made from
// inside Transfer sees nothing left to redeem. A failed transfer puts the
// counter back, since the unit may still commit earlier irrevocable payments.
// A pending transfer counts as paid.
func (l *FeeLedger) settle(ctx context.Context, u *unit, pos position, owed uint64, fee, amount *uint256.Int) (*Redemption, error) {
	if err := l.state.SetClaimsRedeemed(ctx, pos.index, pos.redeemed+owed); err != nil {
		return nil, fmt.Errorf("store redeemed claims for index %d: %w", pos.index, err)
	}
	if err := l.tokens.Transfer(ctx, pos.validator, amount); err != nil {
		if !errors.Is(err, ErrTransferPending) {
			if rerr := l.state.SetClaimsRedeemed(ctx, pos.index, pos.redeemed); rerr != nil {
				return nil, fmt.Errorf("restore redeemed claims for index %d after failed transfer (%v): %w", pos.index, err, rerr)
			}
			return nil, fmt.Errorf("%w: pay %s to %s: %w", ErrTransferFailed, amount.Dec(), pos.validator.Hex(), err)
		}
		l.logger.Warn("Fee transfer not confirmed, recording it as paid",
			zap.String("validator", pos.validator.Hex()),
			zap.Uint64("index", pos.index),
			zap.String("amount", amount.Dec()),
			zap.Error(err))
	}
	if err := u.emit(ctx, feeRedeemedEvent(pos.validator, amount)); err != nil {
		return nil, err
	}
	l.logger.Info("Fee redeemed",
		zap.String("validator", pos.validator.Hex()),
		zap.Uint64("index", pos.index),
		zap.Uint64("claims", owed),
		zap.String("amount", amount.Dec()))
	return &Redemption{
		Validator:   pos.validator,
		Index:       pos.index,
		Claims:      owed,
		FeePerClaim: new(uint256.Int).Set(fee),
		Amount:      amount,
	}, nil
}

func amountFor(claims uint64, fee *uint256.Int) (*uint256.Int, error) {
	amount, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(claims), fee)
	if overflow {
		return nil, fmt.Errorf("%d claims at %s: %w", claims, fee.Dec(), ErrOverflow)
	}
	return amount, nil
}
