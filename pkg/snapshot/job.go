package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Source produces ledger state views.
type Source interface {
	State(ctx context.Context) (*ledger.State, error)
}

// Sink stores a state view under a snapshot id.
type Sink interface {
	Write(ctx context.Context, id uuid.UUID, st *ledger.State) error
}

// Job periodically copies the ledger state into a Sink.
type Job struct {
	logger  *zap.Logger
	source  Source
	sink    Sink
	timeout time.Duration

	Cron     *cron.Cron
	CronSpec string
}

// NewJob schedules RunOnce on cronSpec, a six-field cron expression (seconds first).
func NewJob(ctx context.Context, logger *zap.Logger, source Source, sink Sink, cronSpec string) (*Job, error) {
	j := &Job{
		logger:   logger.Named("snapshot"),
		source:   source,
		sink:     sink,
		timeout:  25 * time.Second,
		CronSpec: cronSpec,
		Cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
	_, err := j.Cron.AddFunc(cronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()
		if _, err := j.RunOnce(rctx); err != nil {
			j.logger.Warn("snapshot failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule snapshot %q: %w", cronSpec, err)
	}
	return j, nil
}

// RunOnce takes and stores one snapshot, returning its id.
func (j *Job) RunOnce(ctx context.Context) (uuid.UUID, error) {
	st, err := j.source.State(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("read ledger state: %w", err)
	}
	id := uuid.New()
	if err := j.sink.Write(ctx, id, st); err != nil {
		return uuid.Nil, fmt.Errorf("write snapshot %s: %w", id, err)
	}
	j.logger.Debug("Snapshot stored",
		zap.String("snapshot_id", id.String()),
		zap.Int("validators", len(st.Validators)),
		zap.String("fee_per_claim", st.FeePerClaim.Dec()))
	return id, nil
}

// Start starts the cron scheduler.
func (j *Job) Start() {
	j.Cron.Start()
	j.logger.Info("Snapshot cron started", zap.String("cronSpec", j.CronSpec))
}

// Stop waits for a running snapshot to finish.
func (j *Job) Stop() {
	<-j.Cron.Stop().Done()
}
