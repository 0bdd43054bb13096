package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type scriptedReader struct {
	batches [][]redis.XMessage
	errs    []error
	lastIDs []string
}

func (r *scriptedReader) XRead(_ context.Context, stream, lastID string, _ int64, _ time.Duration) ([]redis.XStream, error) {
	r.lastIDs = append(r.lastIDs, lastID)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(r.batches) == 0 {
		return nil, redis.Nil
	}
	batch := r.batches[0]
	r.batches = r.batches[1:]
	return []redis.XStream{{Stream: stream, Messages: batch}}, nil
}

func TestStreamConsumer_DeliversInOrderAndResumes(t *testing.T) {
	reader := &scriptedReader{
		errs: []error{nil, errors.New("connection reset"), nil},
		batches: [][]redis.XMessage{
			{{ID: "1-0", Values: map[string]any{"data": "a"}}, {ID: "2-0", Values: map[string]any{"data": "b"}}},
			{{ID: "3-0", Values: map[string]any{"data": []byte("c")}}},
		},
	}
	sc, err := NewStreamConsumer(reader, StreamConsumerConfig{
		Stream:        "feeledger:events",
		LastID:        "0",
		RetryInterval: time.Millisecond,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	var got []string
	done := errors.New("done")
	err = sc.Run(context.Background(), func(_ context.Context, msg Message) error {
		got = append(got, string(msg.GetData()))
		if len(got) == 3 {
			return done
		}
		return nil
	})
	require.ErrorIs(t, err, done)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []string{"0", "2-0", "2-0"}, reader.lastIDs)
}

func TestStreamConsumer_StopsOnCancel(t *testing.T) {
	sc, err := NewStreamConsumer(&scriptedReader{}, StreamConsumerConfig{Stream: "s"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sc.Run(ctx, func(context.Context, Message) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStreamConsumer_Validation(t *testing.T) {
	_, err := NewStreamConsumer(nil, StreamConsumerConfig{Stream: "s"})
	assert.Error(t, err)
	_, err = NewStreamConsumer(&scriptedReader{}, StreamConsumerConfig{})
	assert.Error(t, err)
}

func TestMessage_GetData(t *testing.T) {
	m := Message{Values: map[string]any{"type": "x"}}
	assert.Nil(t, m.GetData())
}
