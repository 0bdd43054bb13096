// Package postgres stores ledger state, the token pool and the event log in
// PostgreSQL. Amounts are NUMERIC(78,0) and cross the driver as decimal text.
package postgres

import (
	"context"
	"fmt"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ledgerLockKey is the advisory lock taken by every unit of work so ledger
// replicas sharing one database never interleave.
const ledgerLockKey int64 = 0x6665656c6564 // "feeled"

// Store implements ledger.StateStore, ledger.TokenStore and ledger.Depositor.
type Store struct {
	*Client
	token   common.Address
	account common.Address
}

// NewStore wraps client and creates the ledger tables.
func NewStore(ctx context.Context, client *Client, token, account common.Address) (*Store, error) {
	s := &Store{Client: client, token: token, account: account}
	if err := s.InitializeDB(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// InitializeDB ensures the required tables exist
func (s *Store) InitializeDB(ctx context.Context) error {
	s.Logger.Info("Initializing ledger tables", zap.String("database", s.TargetDatabase))

	for name, ddl := range map[string]string{
		"ledger_settings": `
			CREATE TABLE IF NOT EXISTS ledger_settings (
				id SMALLINT PRIMARY KEY CHECK (id = 1),
				fee_per_claim NUMERIC(78, 0) NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`,
		"ledger_claims_redeemed": `
			CREATE TABLE IF NOT EXISTS ledger_claims_redeemed (
				validator_index NUMERIC(20, 0) PRIMARY KEY,
				redeemed NUMERIC(20, 0) NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`,
		"ledger_balances": `
			CREATE TABLE IF NOT EXISTS ledger_balances (
				token TEXT NOT NULL,
				owner TEXT NOT NULL,
				balance NUMERIC(78, 0) NOT NULL CHECK (balance >= 0),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (token, owner)
			)`,
		"ledger_events": `
			CREATE TABLE IF NOT EXISTS ledger_events (
				seq BIGSERIAL PRIMARY KEY,
				id UUID NOT NULL UNIQUE,
				type TEXT NOT NULL,
				validator TEXT,
				token TEXT,
				amount NUMERIC(78, 0),
				fee_per_claim NUMERIC(78, 0),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			)`,
	} {
		if err := s.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}

// Atomic runs fn inside one transaction holding the ledger advisory lock.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	return s.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
			return fmt.Errorf("acquire ledger lock: %w", err)
		}
		return fn(s.WithTx(ctx, tx))
	})
}

var (
	_ ledger.StateStore = (*Store)(nil)
	_ ledger.TokenStore = (*Store)(nil)
	_ ledger.Depositor  = (*Store)(nil)
)
