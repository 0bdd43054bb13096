package postgres

import (
	"context"
	"fmt"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (s *Store) Token() common.Address { return s.token }

func (s *Store) Balance(ctx context.Context) (*uint256.Int, error) {
	return s.BalanceOf(ctx, s.account)
}

func (s *Store) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	var raw string
	err := s.GetExecutor(ctx).QueryRow(ctx,
		`SELECT balance::text FROM ledger_balances WHERE token = $1 AND owner = $2`,
		s.token.Hex(), owner.Hex()).Scan(&raw)
	if err != nil {
		if IsNoRows(err) {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("query balance of %s: %w", owner.Hex(), err)
	}
	return parseAmount(raw)
}

// Transfer moves amount from the pool account to `to`.
func (s *Store) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return s.Atomic(ctx, func(ctx context.Context) error {
		from, err := s.lockBalance(ctx, s.account)
		if err != nil {
			return err
		}
		if from.Lt(amount) {
			return fmt.Errorf("%w: pool holds %s, transfer needs %s", ledger.ErrInsufficientFunds, from.Dec(), amount.Dec())
		}
		if to == s.account {
			return nil
		}
		if err := s.putBalance(ctx, s.account, new(uint256.Int).Sub(from, amount)); err != nil {
			return err
		}
		dst, err := s.lockBalance(ctx, to)
		if err != nil {
			return err
		}
		newDst, overflow := new(uint256.Int).AddOverflow(dst, amount)
		if overflow {
			return fmt.Errorf("credit %s: %w", to.Hex(), ledger.ErrOverflow)
		}
		return s.putBalance(ctx, to, newDst)
	})
}

// Deposit credits the pool account.
func (s *Store) Deposit(ctx context.Context, amount *uint256.Int) error {
	return s.Atomic(ctx, func(ctx context.Context) error {
		current, err := s.lockBalance(ctx, s.account)
		if err != nil {
			return err
		}
		next, overflow := new(uint256.Int).AddOverflow(current, amount)
		if overflow {
			return ledger.ErrOverflow
		}
		return s.putBalance(ctx, s.account, next)
	})
}

// lockBalance reads owner's balance with a row lock held until the transaction ends.
func (s *Store) lockBalance(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	var raw string
	err := s.GetExecutor(ctx).QueryRow(ctx,
		`SELECT balance::text FROM ledger_balances WHERE token = $1 AND owner = $2 FOR UPDATE`,
		s.token.Hex(), owner.Hex()).Scan(&raw)
	if err != nil {
		if IsNoRows(err) {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("lock balance of %s: %w", owner.Hex(), err)
	}
	return parseAmount(raw)
}

func (s *Store) putBalance(ctx context.Context, owner common.Address, balance *uint256.Int) error {
	query := `
		INSERT INTO ledger_balances (token, owner, balance, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (token, owner) DO UPDATE SET
			balance = EXCLUDED.balance,
			updated_at = NOW()
	`
	if err := s.Exec(ctx, query, s.token.Hex(), owner.Hex(), balance.Dec()); err != nil {
		return fmt.Errorf("store balance of %s: %w", owner.Hex(), err)
	}
	return nil
}
