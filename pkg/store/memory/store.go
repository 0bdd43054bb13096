// Package memory is an in-process state and token store. Transactions are
// serialized and rolled back by restoring a copy taken when they began.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type txKey struct{}

// Store implements ledger.StateStore, ledger.TokenStore and ledger.Depositor.
type Store struct {
	token   common.Address
	account common.Address

	txMu sync.Mutex
	mu   sync.RWMutex
	data data
}

type data struct {
	fee      *uint256.Int
	redeemed map[uint64]uint64
	balances map[common.Address]*uint256.Int
	events   []ledger.Event
}

func (d data) clone() data {
	out := data{
		redeemed: maps.Clone(d.redeemed),
		balances: make(map[common.Address]*uint256.Int, len(d.balances)),
		events:   append([]ledger.Event(nil), d.events...),
	}
	if d.fee != nil {
		out.fee = new(uint256.Int).Set(d.fee)
	}
	for k, v := range d.balances {
		out.balances[k] = new(uint256.Int).Set(v)
	}
	return out
}

// New returns an empty store whose pool is held by account.
func New(token, account common.Address) *Store {
	return &Store{
		token:   token,
		account: account,
		data: data{
			redeemed: make(map[uint64]uint64),
			balances: make(map[common.Address]*uint256.Int),
		},
	}
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// Atomic runs fn and restores the pre-call state if it fails.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	saved := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.mu.Lock()
		s.data = saved
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) FeePerClaim(_ context.Context) (*uint256.Int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.fee == nil {
		return nil, false, nil
	}
	return new(uint256.Int).Set(s.data.fee), true, nil
}

func (s *Store) SetFeePerClaim(ctx context.Context, fee *uint256.Int) error {
	return s.Atomic(ctx, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.data.fee = new(uint256.Int).Set(fee)
		return nil
	})
}

func (s *Store) ClaimsRedeemed(_ context.Context, index uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.redeemed[index], nil
}

func (s *Store) SetClaimsRedeemed(ctx context.Context, index uint64, count uint64) error {
	return s.Atomic(ctx, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.data.redeemed[index] = count
		return nil
	})
}

func (s *Store) AppendEvent(ctx context.Context, ev ledger.Event) error {
	return s.Atomic(ctx, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.data.events = append(s.data.events, ev)
		return nil
	})
}

// ListEvents returns the newest events first. A non-positive limit returns all.
func (s *Store) ListEvents(_ context.Context, limit int) ([]ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.data.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ledger.Event, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.data.events[i])
	}
	return out, nil
}

func (s *Store) Token() common.Address { return s.token }

// Transfer moves amount from the pool account to `to`.
func (s *Store) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return s.Atomic(ctx, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		from := s.balance(s.account)
		if from.Lt(amount) {
			return fmt.Errorf("%w: pool holds %s, transfer needs %s", ledger.ErrInsufficientFunds, from.Dec(), amount.Dec())
		}
		from.Sub(from, amount)
		dst := s.balance(to)
		dst.Add(dst, amount)
		return nil
	})
}

func (s *Store) Balance(ctx context.Context) (*uint256.Int, error) {
	return s.BalanceOf(ctx, s.account)
}

func (s *Store) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.data.balances[owner]; ok {
		return new(uint256.Int).Set(b), nil
	}
	return new(uint256.Int), nil
}

// Deposit credits the pool account.
func (s *Store) Deposit(ctx context.Context, amount *uint256.Int) error {
	return s.Atomic(ctx, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		b := s.balance(s.account)
		if _, overflow := b.AddOverflow(b, amount); overflow {
			return ledger.ErrOverflow
		}
		return nil
	})
}

// balance returns the live balance entry for owner, creating it. Callers hold mu.
func (s *Store) balance(owner common.Address) *uint256.Int {
	b, ok := s.data.balances[owner]
	if !ok {
		b = new(uint256.Int)
		s.data.balances[owner] = b
	}
	return b
}

var (
	_ ledger.StateStore = (*Store)(nil)
	_ ledger.TokenStore = (*Store)(nil)
	_ ledger.Depositor  = (*Store)(nil)
)
