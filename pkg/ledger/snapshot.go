package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type slot struct {
	index   uint64
	address common.Address
	claims  uint64
	err     error
}

// snapshot reads the validator count once and then every slot's address and
// claim count in parallel. Callers settle from the returned slots only, so a
// validator set that changes while a reset runs cannot be half-applied.
func (l *FeeLedger) snapshot(ctx context.Context) ([]slot, error) {
	count, err := l.authority.ValidatorCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("validator count: %w", err)
	}
	if count > l.maxValidators {
		return nil, fmt.Errorf("%w: authority reports %d, limit is %d", ErrTooManyValidators, count, l.maxValidators)
	}
	slots := make([]slot, count)
	if count == 0 {
		return slots, nil
	}

	group := l.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i := range slots {
		s := &slots[i]
		s.index = uint64(i)
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				s.err = err
				return
			}
			addr, err := l.authority.ValidatorAt(groupCtx, s.index)
			if err != nil {
				s.err = fmt.Errorf("validator at %d: %w", s.index, err)
				return
			}
			s.address = addr
			if addr == (common.Address{}) {
				return
			}
			s.claims, err = l.authority.ClaimsByIndex(groupCtx, s.index)
			if err != nil {
				s.err = fmt.Errorf("claims for index %d: %w", s.index, err)
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		l.logger.Warn("validator snapshot encountered error", zap.Uint64("validators", count), zap.Error(err))
	}

	for i := range slots {
		if slots[i].err != nil {
			return nil, slots[i].err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}
