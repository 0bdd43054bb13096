package snapshot

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const createSnapshotsTable = `
	CREATE TABLE IF NOT EXISTS fee_ledger_snapshots (
		snapshot_id UUID,
		observed_at DateTime64(3, 'UTC'),
		token String,
		fee_per_claim UInt256,
		pool_balance UInt256,
		validator_index UInt64,
		validator String,
		total_claims UInt64,
		redeemed UInt64,
		redeemable UInt64,
		owed UInt256
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(observed_at)
	ORDER BY (observed_at, validator_index)
`

const insertSnapshotRows = `INSERT INTO fee_ledger_snapshots (
	snapshot_id, observed_at, token, fee_per_claim, pool_balance,
	validator_index, validator, total_claims, redeemed, redeemable, owed
)`

// Row is one validator line of a ledger snapshot.
type Row struct {
	SnapshotID     uuid.UUID
	ObservedAt     time.Time
	Token          string
	FeePerClaim    *big.Int
	PoolBalance    *big.Int
	ValidatorIndex uint64
	Validator      string
	TotalClaims    uint64
	Redeemed       uint64
	Redeemable     uint64
	Owed           *big.Int
}

// Rows flattens st into one row per validator.
func Rows(id uuid.UUID, st *ledger.State) []Row {
	out := make([]Row, 0, len(st.Validators))
	for _, v := range st.Validators {
		out = append(out, Row{
			SnapshotID:     id,
			ObservedAt:     st.ObservedAt,
			Token:          st.Token.Hex(),
			FeePerClaim:    st.FeePerClaim.ToBig(),
			PoolBalance:    st.PoolBalance.ToBig(),
			ValidatorIndex: v.Index,
			Validator:      v.Address.Hex(),
			TotalClaims:    v.TotalClaims,
			Redeemed:       v.Redeemed,
			Redeemable:     v.Redeemable,
			Owed:           v.Owed.ToBig(),
		})
	}
	return out
}

// Writer stores ledger snapshots in ClickHouse.
type Writer struct {
	client *Client
}

// NewWriter creates the snapshot table.
func NewWriter(ctx context.Context, client *Client) (*Writer, error) {
	if err := client.Db.Exec(ctx, createSnapshotsTable); err != nil {
		return nil, fmt.Errorf("create fee_ledger_snapshots: %w", err)
	}
	return &Writer{client: client}, nil
}

// Write inserts every row of the snapshot in one batch.
func (w *Writer) Write(ctx context.Context, id uuid.UUID, st *ledger.State) error {
	rows := Rows(id, st)
	if len(rows) == 0 {
		w.client.Logger.Debug("Snapshot has no validators", zap.String("snapshot_id", id.String()))
		return nil
	}
	batch, err := w.client.Db.PrepareBatch(ctx, insertSnapshotRows)
	if err != nil {
		return fmt.Errorf("prepare snapshot batch: %w", err)
	}
	for _, r := range rows {
		err = batch.Append(
			r.SnapshotID,
			r.ObservedAt,
			r.Token,
			r.FeePerClaim,
			r.PoolBalance,
			r.ValidatorIndex,
			r.Validator,
			r.TotalClaims,
			r.Redeemed,
			r.Redeemable,
			r.Owed,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append snapshot row %d: %w", r.ValidatorIndex, err)
		}
	}
	return batch.Send()
}
