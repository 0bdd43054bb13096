package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

func (s *Store) AppendEvent(ctx context.Context, ev ledger.Event) error {
	query := `
		INSERT INTO ledger_events (id, type, validator, token, amount, fee_per_claim, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
	`
	err := s.Exec(ctx, query,
		ev.ID.String(),
		string(ev.Type),
		nullableAddress(ev.Validator),
		nullableAddress(ev.Token),
		nullableAmount(ev.Amount),
		nullableAmount(ev.FeePerClaim),
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	return nil
}

// ListEvents returns the newest events first. A non-positive limit returns all.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]ledger.Event, error) {
	query := `
		SELECT id::text, type, validator, token, amount::text, fee_per_claim::text, created_at
		FROM ledger_events
		ORDER BY seq DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.GetExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []ledger.Event
	for rows.Next() {
		var (
			id, typ             string
			validator, token    *string
			amount, feePerClaim *string
			createdAt           time.Time
		)
		if err := rows.Scan(&id, &typ, &validator, &token, &amount, &feePerClaim, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := ledger.Event{Type: ledger.EventType(typ), CreatedAt: createdAt.UTC()}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		ev.Validator = parseAddress(validator)
		ev.Token = parseAddress(token)
		if amount != nil {
			if ev.Amount, err = parseAmount(*amount); err != nil {
				return nil, err
			}
		}
		if feePerClaim != nil {
			if ev.FeePerClaim, err = parseAmount(*feePerClaim); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullableAddress(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := a.Hex()
	return &s
}

func parseAddress(s *string) *common.Address {
	if s == nil {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}
