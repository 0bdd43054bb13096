package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/canopy-network/feeledger/app/ledger/controller/types"
	"github.com/canopy-network/feeledger/pkg/events"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/canopy-network/feeledger/pkg/redis"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscriptions tracks which validators a client follows. Events that do not
// name a validator are always delivered. Unsubscribing a validator while
// following "*" excludes it until it is subscribed again.
type subscriptions struct {
	mu         sync.RWMutex
	validators map[string]bool
	excluded   map[string]bool
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		validators: map[string]bool{"*": true},
		excluded:   map[string]bool{},
	}
}

func subscriptionKey(v string) (string, bool) {
	if v == "*" {
		return v, true
	}
	if !common.IsHexAddress(v) {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(v).Hex()), true
}

func (s *subscriptions) set(key string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "*" {
		clear(s.excluded)
	}
	if on {
		s.validators[key] = true
		delete(s.excluded, key)
		return
	}
	delete(s.validators, key)
	if key != "*" {
		s.excluded[key] = true
	}
}

func (s *subscriptions) matches(ev ledger.Event) bool {
	if ev.Validator == nil {
		return true
	}
	key := strings.ToLower(ev.Validator.Hex())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.excluded[key] {
		return false
	}
	return s.validators["*"] || s.validators[key]
}

// HandleWebSocket streams committed ledger events to the client.
//
// Client sends: {"action": "unsubscribe", "validator": "*"}
// Client sends: {"action": "subscribe", "validator": "0xabc..."}
// Client sends: {"action": "unsubscribe", "validator": "0xdef..."}
//
// Server sends {"type": "<event type>", "payload": {...event}} and
// acknowledges subscription changes with "subscribed"/"unsubscribed".
// New connections follow every validator.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.Stream == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}
	stream := c.App.EventStream
	if stream == "" {
		stream = events.DefaultStream
	}
	consumer, err := redis.NewStreamConsumer(c.Stream, redis.StreamConsumerConfig{
		Stream: stream,
		LastID: "$",
		Logger: c.App.Logger,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}()
	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := newSubscriptions()
	send := make(chan types.WSServerMessage, 256)

	recoverTo := func(name string) {
		if rec := recover(); rec != nil {
			c.App.Logger.Error("Panic in WebSocket goroutine",
				zap.String("goroutine", name),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())),
				zap.String("remote_addr", r.RemoteAddr))
			cancel()
		}
	}

	var producer sync.WaitGroup
	producer.Add(1)
	go func() {
		defer producer.Done()
		defer recoverTo("stream")
		err := consumer.Run(ctx, func(ctx context.Context, msg redis.Message) error {
			ev, err := events.Decode(msg)
			if err != nil {
				c.App.Logger.Warn("Skipping undecodable event", zap.Error(err))
				return nil
			}
			if !subs.matches(ev) {
				return nil
			}
			select {
			case send <- types.WSServerMessage{Type: string(ev.Type), Payload: ev}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			c.App.Logger.Warn("Event stream stopped", zap.Error(err))
			cancel()
		}
	}()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		defer recoverTo("writer")
		c.writeMessages(ctx, conn, send)
	}()

	c.readClientMessages(ctx, conn, subs, send)

	cancel()
	producer.Wait()
	close(send)
	writer.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// readClientMessages blocks until the client goes away or ctx ends.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, subs *subscriptions, send chan<- types.WSServerMessage) {
	go func() {
		<-ctx.Done()
		// unblock ReadJSON
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		var msg types.WSClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				c.App.Logger.Debug("WebSocket read failed", zap.Error(err))
			}
			return
		}

		reply := types.WSServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action"}}
		key, ok := subscriptionKey(msg.Validator)
		switch {
		case !ok:
			reply.Payload = map[string]string{"message": "validator must be a hex address or *"}
		case msg.Action == "subscribe":
			subs.set(key, true)
			reply = types.WSServerMessage{Type: "subscribed", Payload: map[string]string{"validator": key}}
		case msg.Action == "unsubscribe":
			subs.set(key, false)
			reply = types.WSServerMessage{Type: "unsubscribed", Payload: map[string]string{"validator": key}}
		}

		select {
		case send <- reply:
		case <-ctx.Done():
			return
		}
	}
}

// writeMessages is the only writer on conn. It returns when send is closed.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan types.WSServerMessage) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Debug("WebSocket write failed", zap.Error(err))
				drain(send)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				drain(send)
				return
			}
		case <-ctx.Done():
			drain(send)
			return
		}
	}
}

// drain discards messages until send is closed so producers never block.
func drain(send <-chan types.WSServerMessage) {
	for range send {
	}
}
