package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/canopy-network/feeledger/pkg/redis"
	"github.com/canopy-network/feeledger/pkg/snapshot"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// User is an API user. Address is the account the user acts as when
// calling owner-only ledger operations.
type User struct {
	Username string         `json:"username"`
	Hash     []byte         `json:"hash"`
	Role     string         `json:"role"`
	Address  common.Address `json:"address"`
}

type App struct {
	// Fee ledger and the token store it pays from
	Ledger *ledger.FeeLedger
	Tokens ledger.TokenStore

	// Health checks keyed by component name
	Checks map[string]Pinger

	// Redis Client (for WebSocket real-time events), nil when disabled
	RedisClient *redis.Client
	EventStream string

	// Snapshot cron job, nil when disabled
	Snapshots *snapshot.Job

	// Zap Logger
	Logger *zap.Logger

	// HTTP Server
	Server *http.Server

	// Closers run in reverse order on shutdown
	Closers []func() error
}

// OnClose registers fn to run on shutdown.
func (a *App) OnClose(fn func() error) {
	a.Closers = append(a.Closers, fn)
}

// Start starts the application and blocks until ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.Snapshots != nil {
		a.Snapshots.Start()
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	if a.Snapshots != nil {
		a.Logger.Info("Stopping snapshot cron")
		a.Snapshots.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("Error shutting down server", zap.Error(err))
	}

	a.Ledger.Close()
	for i := len(a.Closers) - 1; i >= 0; i-- {
		if err := a.Closers[i](); err != nil {
			a.Logger.Error("Error closing resource", zap.Error(err))
		}
	}
	a.Logger.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
