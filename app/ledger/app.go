package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/canopy-network/feeledger/app/ledger/types"
	"github.com/canopy-network/feeledger/pkg/authority"
	"github.com/canopy-network/feeledger/pkg/events"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/canopy-network/feeledger/pkg/logging"
	"github.com/canopy-network/feeledger/pkg/redis"
	"github.com/canopy-network/feeledger/pkg/snapshot"
	boltstore "github.com/canopy-network/feeledger/pkg/store/bolt"
	"github.com/canopy-network/feeledger/pkg/store/memory"
	"github.com/canopy-network/feeledger/pkg/store/postgres"
	"github.com/canopy-network/feeledger/pkg/token/erc20"
	"github.com/canopy-network/feeledger/pkg/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// stateBackend is a state store that, for the store token backend, also
// holds the pool balances.
type stateBackend interface {
	ledger.StateStore
	ledger.TokenStore
}

func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New("ledger")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	app, err := Build(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to initialize fee ledger", zap.Error(err))
	}
	return app
}

// Build wires the ledger and its backends from the environment.
func Build(ctx context.Context, logger *zap.Logger) (*types.App, error) {
	app := &types.App{
		Logger: logger,
		Checks: map[string]types.Pinger{},
	}
	fail := func(err error) (*types.App, error) {
		for i := len(app.Closers) - 1; i >= 0; i-- {
			_ = app.Closers[i]()
		}
		return nil, err
	}

	owner, err := envAddress("LEDGER_OWNER", "")
	if err != nil {
		return fail(err)
	}
	if owner == (common.Address{}) {
		return fail(fmt.Errorf("LEDGER_OWNER: %w", ledger.ErrInvalidAddress))
	}
	tokenAddr, err := envAddress("TOKEN_ADDRESS", common.Address{}.Hex())
	if err != nil {
		return fail(err)
	}
	account, err := envAddress("LEDGER_ADDRESS", owner.Hex())
	if err != nil {
		return fail(err)
	}
	initialFee, err := uint256.FromDecimal(utils.Env("INITIAL_FEE_PER_CLAIM", "10"))
	if err != nil {
		return fail(fmt.Errorf("INITIAL_FEE_PER_CLAIM: %w", err))
	}

	state, err := openState(ctx, app, tokenAddr, account)
	if err != nil {
		return fail(err)
	}

	tokens := ledger.TokenStore(state)
	switch backend := utils.Env("TOKEN_BACKEND", "store"); backend {
	case "store":
	case "erc20":
		chainID, ok := new(big.Int).SetString(utils.Env("ERC20_CHAIN_ID", "1"), 10)
		if !ok {
			return fail(errors.New("ERC20_CHAIN_ID: invalid chain id"))
		}
		tok, err := erc20.Dial(ctx, logger,
			utils.Env("ERC20_RPC_URL", "http://localhost:8545"),
			utils.Env("ERC20_PRIVATE_KEY", ""),
			tokenAddr,
			chainID,
			uint64(utils.EnvInt64("ERC20_CONFIRMATIONS", 1)),
			utils.EnvDuration("ERC20_CONFIRM_TIMEOUT", 10*time.Minute))
		if err != nil {
			return fail(fmt.Errorf("dial erc20 token: %w", err))
		}
		tokens = tok
	default:
		return fail(fmt.Errorf("unknown TOKEN_BACKEND %q", backend))
	}
	app.Tokens = tokens

	auth, err := openAuthority(app)
	if err != nil {
		return fail(err)
	}

	publisher := events.Multi{events.NewLogPublisher(logger)}
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err := redis.NewClient(ctx, logger, redis.ConfigFromEnv())
		if err != nil {
			logger.Warn("Failed to initialize Redis client - event streaming will be disabled", zap.Error(err))
		} else {
			logger.Info("Redis client initialized for event streaming")
			app.RedisClient = redisClient
			app.EventStream = events.DefaultStream
			app.Checks["redis"] = redisPinger{redisClient}
			app.OnClose(redisClient.Close)
			publisher = append(publisher, events.NewRedisPublisher(redisClient))
		}
	} else {
		logger.Info("Redis disabled - event streaming will not be available")
	}

	l, err := ledger.New(ctx, ledger.Options{
		Logger:             logger,
		Authority:          auth,
		Tokens:             tokens,
		State:              state,
		Publisher:          publisher,
		Owner:              owner,
		InitialFeePerClaim: initialFee,
		SnapshotWorkers:    utils.EnvInt("SNAPSHOT_WORKERS", 8),
		MaxValidators:      uint64(utils.EnvInt64("MAX_VALIDATORS", 10_000)),
	})
	if err != nil {
		return fail(fmt.Errorf("create fee ledger: %w", err))
	}
	app.Ledger = l

	if utils.EnvBool("SNAPSHOT_ENABLED", false) {
		job, err := openSnapshots(ctx, app)
		if err != nil {
			l.Close()
			return fail(err)
		}
		app.Snapshots = job
	}

	logger.Info("Fee ledger ready",
		zap.String("owner", owner.Hex()),
		zap.String("token", tokens.Token().Hex()),
		zap.String("account", account.Hex()))
	return app, nil
}

func openState(ctx context.Context, app *types.App, token, account common.Address) (stateBackend, error) {
	switch backend := utils.Env("STORE_BACKEND", "memory"); backend {
	case "memory":
		app.Logger.Warn("Using in-memory store, state is lost on restart")
		return memory.New(token, account), nil
	case "postgres":
		client, err := postgres.New(ctx, app.Logger,
			utils.Env("POSTGRES_URL", "postgres://localhost:5432/postgres"),
			utils.Env("LEDGER_DB", "feeledger"),
			postgres.DefaultPoolConfig())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		app.OnClose(func() error { client.Close(); return nil })
		app.Checks["postgres"] = client
		store, err := postgres.NewStore(ctx, client, token, account)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		return store, nil
	case "bolt":
		store, err := boltstore.Open(app.Logger, utils.Env("BOLT_PATH", "feeledger.db"), token, account)
		if err != nil {
			return nil, err
		}
		app.OnClose(store.Close)
		app.Checks["bolt"] = store
		return store, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}
}

func openAuthority(app *types.App) (ledger.ClaimAuthority, error) {
	switch backend := utils.Env("AUTHORITY_BACKEND", "http"); backend {
	case "http":
		endpoints := utils.EnvList("AUTHORITY_ENDPOINTS")
		if len(endpoints) == 0 {
			return nil, errors.New("AUTHORITY_ENDPOINTS is required for the http authority")
		}
		client := authority.NewClient(authority.Opts{
			Endpoints: endpoints,
			RPS:       utils.EnvInt("AUTHORITY_RPS", 20),
			Timeout:   utils.EnvDuration("AUTHORITY_TIMEOUT", 0),
		})
		app.Checks["authority"] = client
		return client, nil
	case "static":
		path := utils.Env("AUTHORITY_FILE", "")
		if path == "" {
			app.Logger.Warn("AUTHORITY_FILE not set, starting with an empty validator set")
			s := authority.NewStatic()
			app.Checks["authority"] = s
			return s, nil
		}
		s, err := authority.LoadStatic(path)
		if err != nil {
			return nil, fmt.Errorf("load static authority: %w", err)
		}
		app.Checks["authority"] = s
		return s, nil
	default:
		return nil, fmt.Errorf("unknown AUTHORITY_BACKEND %q", backend)
	}
}

func openSnapshots(ctx context.Context, app *types.App) (*snapshot.Job, error) {
	client, err := snapshot.NewClient(ctx, app.Logger,
		utils.Env("CLICKHOUSE_ADDR", "clickhouse://localhost:9000"),
		utils.Env("SNAPSHOT_DB", "feeledger"))
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	app.OnClose(client.Close)
	app.Checks["clickhouse"] = client

	writer, err := snapshot.NewWriter(ctx, client)
	if err != nil {
		return nil, err
	}
	return snapshot.NewJob(ctx, app.Logger, app.Ledger, writer, utils.Env("SNAPSHOT_CRON", "0 */5 * * * *"))
}

func envAddress(key, def string) (common.Address, error) {
	v := strings.TrimSpace(utils.Env(key, def))
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", key, v)
	}
	return common.HexToAddress(v), nil
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Health(ctx) }
