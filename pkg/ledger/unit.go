package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type unitKey struct{}

// unit is one serialized ledger operation. Events it emits are published
// once its state store unit of work has committed.
type unit struct {
	ledger *FeeLedger
	events []Event
}

func (u *unit) emit(ctx context.Context, ev Event) error {
	if err := u.ledger.state.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", ev.Type, err)
	}
	u.events = append(u.events, ev)
	return nil
}

// run executes fn under the ledger lock inside one state store unit of work.
// A ctx that already carries a unit of this ledger joins it rather than
// waiting on the lock held by its own caller.
func (l *FeeLedger) run(ctx context.Context, fn func(ctx context.Context, u *unit) error) error {
	if u, ok := ctx.Value(unitKey{}).(*unit); ok && u.ledger == l {
		mark := len(u.events)
		if err := fn(ctx, u); err != nil {
			u.events = u.events[:mark]
			return err
		}
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u := &unit{ledger: l}
	err := l.state.Atomic(context.WithValue(ctx, unitKey{}, u), func(txCtx context.Context) error {
		return fn(txCtx, u)
	})
	if err != nil {
		return err
	}

	for _, ev := range u.events {
		if err := l.publisher.Publish(ctx, ev); err != nil {
			l.logger.Warn("Failed to publish ledger event",
				zap.String("event_id", ev.ID.String()),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
	return nil
}
