package postgres

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
)

func (s *Store) FeePerClaim(ctx context.Context) (*uint256.Int, bool, error) {
	var raw string
	err := s.GetExecutor(ctx).QueryRow(ctx,
		`SELECT fee_per_claim::text FROM ledger_settings WHERE id = 1`).Scan(&raw)
	if err != nil {
		if IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query fee per claim: %w", err)
	}
	fee, err := parseAmount(raw)
	if err != nil {
		return nil, false, err
	}
	return fee, true, nil
}

func (s *Store) SetFeePerClaim(ctx context.Context, fee *uint256.Int) error {
	query := `
		INSERT INTO ledger_settings (id, fee_per_claim, updated_at)
		VALUES (1, $1::numeric, NOW())
		ON CONFLICT (id) DO UPDATE SET
			fee_per_claim = EXCLUDED.fee_per_claim,
			updated_at = NOW()
	`
	if err := s.Exec(ctx, query, fee.Dec()); err != nil {
		return fmt.Errorf("store fee per claim: %w", err)
	}
	return nil
}

func (s *Store) ClaimsRedeemed(ctx context.Context, index uint64) (uint64, error) {
	var raw string
	err := s.GetExecutor(ctx).QueryRow(ctx,
		`SELECT redeemed::text FROM ledger_claims_redeemed WHERE validator_index = $1::numeric`,
		formatCount(index)).Scan(&raw)
	if err != nil {
		if IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("query redeemed claims: %w", err)
	}
	return parseCount(raw)
}

func (s *Store) SetClaimsRedeemed(ctx context.Context, index uint64, count uint64) error {
	query := `
		INSERT INTO ledger_claims_redeemed (validator_index, redeemed, updated_at)
		VALUES ($1::numeric, $2::numeric, NOW())
		ON CONFLICT (validator_index) DO UPDATE SET
			redeemed = EXCLUDED.redeemed,
			updated_at = NOW()
	`
	if err := s.Exec(ctx, query, formatCount(index), formatCount(count)); err != nil {
		return fmt.Errorf("store redeemed claims: %w", err)
	}
	return nil
}
