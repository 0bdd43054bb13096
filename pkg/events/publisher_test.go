package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/canopy-network/feeledger/pkg/redis"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSink struct {
	entries  []map[string]any
	channels []string
	messages []any
	xaddErr  error
}

func (f *fakeSink) XAdd(_ context.Context, stream string, values map[string]any) (string, error) {
	if f.xaddErr != nil {
		return "", f.xaddErr
	}
	f.entries = append(f.entries, values)
	return "1-0", nil
}

func (f *fakeSink) Publish(_ context.Context, channel string, message any) error {
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message)
	return nil
}

func redeemedEvent() ledger.Event {
	v := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	return ledger.Event{
		ID:        uuid.New(),
		Type:      ledger.EventFeeRedeemed,
		Validator: &v,
		Amount:    uint256.NewInt(300),
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRedisPublisher_WritesStreamAndChannel(t *testing.T) {
	sink := &fakeSink{}
	p := NewRedisPublisher(sink)
	ev := redeemedEvent()

	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, sink.entries, 1)
	assert.Equal(t, string(ledger.EventFeeRedeemed), sink.entries[0]["type"])
	assert.Equal(t, ev.ID.String(), sink.entries[0]["id"])
	assert.Equal(t, []string{"feeledger:fee_ledger.fee_redeemed"}, sink.channels)

	decoded, err := Decode(redis.Message{ID: "1-0", Values: sink.entries[0]})
	require.NoError(t, err)
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, *ev.Validator, *decoded.Validator)
	assert.Equal(t, uint64(300), decoded.Amount.Uint64())
	assert.True(t, ev.CreatedAt.Equal(decoded.CreatedAt))
}

func TestRedisPublisher_SurvivesCancelledCaller(t *testing.T) {
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, NewRedisPublisher(sink).Publish(ctx, redeemedEvent()))
	assert.Len(t, sink.entries, 1)
}

func TestRedisPublisher_StreamFailure(t *testing.T) {
	sink := &fakeSink{xaddErr: errors.New("READONLY")}
	err := NewRedisPublisher(sink).Publish(context.Background(), redeemedEvent())
	require.Error(t, err)
	assert.Empty(t, sink.channels)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), redeemedEvent()))
	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "fee_ledger.fee_redeemed", fields["type"])
	assert.Equal(t, "300", fields["amount"])
}

func TestMultiJoinsErrors(t *testing.T) {
	failing := NewRedisPublisher(&fakeSink{xaddErr: errors.New("down")})
	ok := &fakeSink{}
	m := Multi{failing, NewRedisPublisher(ok)}

	err := m.Publish(context.Background(), redeemedEvent())
	require.Error(t, err)
	assert.Len(t, ok.entries, 1, "later publishers still run")
}

func TestDecode_MissingData(t *testing.T) {
	_, err := Decode(redis.Message{ID: "9-0", Values: map[string]any{}})
	assert.Error(t, err)
}
