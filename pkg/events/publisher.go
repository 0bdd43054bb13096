// Package events fans committed ledger events out to Redis and the log.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/canopy-network/feeledger/pkg/redis"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

const (
	// DefaultStream is the Redis stream every event is appended to.
	DefaultStream = "feeledger:events"
	// DefaultChannelPrefix prefixes the per-type Pub/Sub channel, e.g.
	// "feeledger:fee_ledger.fee_redeemed".
	DefaultChannelPrefix = "feeledger"
)

// Sink is the part of redis.Client the publisher writes to.
type Sink interface {
	XAdd(ctx context.Context, stream string, values map[string]any) (string, error)
	Publish(ctx context.Context, channel string, message any) error
}

// RedisPublisher appends events to a stream and announces them on Pub/Sub.
type RedisPublisher struct {
	sink    Sink
	stream  string
	prefix  string
	timeout time.Duration
}

// NewRedisPublisher publishes to DefaultStream and DefaultChannelPrefix.
func NewRedisPublisher(sink Sink) *RedisPublisher {
	return &RedisPublisher{sink: sink, stream: DefaultStream, prefix: DefaultChannelPrefix, timeout: 3 * time.Second}
}

// Channel returns the Pub/Sub channel for an event type.
func (p *RedisPublisher) Channel(t ledger.EventType) string {
	return p.prefix + ":" + string(t)
}

func (p *RedisPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	// the operation already committed; a cancelled request must not drop the event
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if _, err := p.sink.XAdd(ctx, p.stream, map[string]any{
		"id":   ev.ID.String(),
		"type": string(ev.Type),
		"data": string(data),
	}); err != nil {
		return err
	}
	return p.sink.Publish(ctx, p.Channel(ev.Type), string(data))
}

// LogPublisher writes each event to the logger.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev ledger.Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID.String()),
		zap.String("type", string(ev.Type)),
	}
	if ev.Validator != nil {
		fields = append(fields, zap.String("validator", ev.Validator.Hex()))
	}
	if ev.Token != nil {
		fields = append(fields, zap.String("token", ev.Token.Hex()))
	}
	if ev.Amount != nil {
		fields = append(fields, zap.String("amount", ev.Amount.Dec()))
	}
	if ev.FeePerClaim != nil {
		fields = append(fields, zap.String("fee_per_claim", ev.FeePerClaim.Dec()))
	}
	p.logger.Info("Ledger event", fields...)
	return nil
}

// Multi publishes to every publisher and joins their errors.
type Multi []ledger.Publisher

func (m Multi) Publish(ctx context.Context, ev ledger.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decode turns a stream entry written by RedisPublisher back into an event.
func Decode(msg redis.Message) (ledger.Event, error) {
	var ev ledger.Event
	data := msg.GetData()
	if data == nil {
		return ev, fmt.Errorf("stream entry %s has no data", msg.ID)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode stream entry %s: %w", msg.ID, err)
	}
	return ev, nil
}

var (
	_ ledger.Publisher = (*RedisPublisher)(nil)
	_ ledger.Publisher = (*LogPublisher)(nil)
	_ ledger.Publisher = Multi(nil)
	_ Sink             = (*redis.Client)(nil)
)
