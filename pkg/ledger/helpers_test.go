package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/canopy-network/feeledger/pkg/authority"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/canopy-network/feeledger/pkg/store/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	owner      = common.HexToAddress("0x000000000000000000000000000000000000f00d")
	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	tokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000070c3")
	stranger   = common.HexToAddress("0x000000000000000000000000000000000000dead")
	validatorA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	validatorB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	validatorC = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev ledger.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []ledger.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ledger.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	ledger *ledger.FeeLedger
	auth   *authority.Static
	store  *memory.Store
	pub    *recordingPublisher
}

type fixtureOpts struct {
	fee    uint64
	funds  uint64
	tokens func(*memory.Store) ledger.TokenStore
	auth   ledger.ClaimAuthority
	// maxValidators is passed through when set.
	maxValidators uint64
}

func newFixture(t *testing.T, o fixtureOpts, validators ...common.Address) *fixture {
	t.Helper()
	f := &fixture{
		auth:  authority.NewStatic(validators...),
		store: memory.New(tokenAddr, poolAddr),
		pub:   &recordingPublisher{},
	}
	if o.funds > 0 {
		require.NoError(t, f.store.Deposit(context.Background(), uint256.NewInt(o.funds)))
	}
	var tokens ledger.TokenStore = f.store
	if o.tokens != nil {
		tokens = o.tokens(f.store)
	}
	var auth ledger.ClaimAuthority = f.auth
	if o.auth != nil {
		auth = o.auth
	}
	l, err := ledger.New(context.Background(), ledger.Options{
		Logger:             zaptest.NewLogger(t),
		Authority:          auth,
		Tokens:             tokens,
		State:              f.store,
		Publisher:          f.pub,
		Owner:              owner,
		InitialFeePerClaim: uint256.NewInt(o.fee),
		MaxValidators:      o.maxValidators,
	})
	require.NoError(t, err)
	t.Cleanup(l.Close)
	f.ledger = l
	return f
}

func (f *fixture) balance(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	b, err := f.store.BalanceOf(context.Background(), addr)
	require.NoError(t, err)
	return b.Uint64()
}

func (f *fixture) claims(t *testing.T, v common.Address, n uint64) {
	t.Helper()
	require.NoError(t, f.auth.AddClaims(v, n))
}

// flakyTokens fails every transfer to one recipient.
type flakyTokens struct {
	*memory.Store
	failFor common.Address
	err     error
}

func (f *flakyTokens) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if to == f.failFor {
		return f.err
	}
	return f.Store.Transfer(ctx, to, amount)
}

// reentrantTokens calls back into the ledger from inside Transfer.
type reentrantTokens struct {
	*memory.Store
	ledger     *ledger.FeeLedger
	reentryErr error
	calls      int
}

func (r *reentrantTokens) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	r.calls++
	if r.ledger != nil && r.calls == 1 {
		_, r.reentryErr = r.ledger.RedeemFee(ctx, to)
	}
	return r.Store.Transfer(ctx, to, amount)
}

type mockAuthority struct {
	mock.Mock
}

func (m *mockAuthority) ValidatorIndex(ctx context.Context, v common.Address) (uint64, error) {
	args := m.Called(ctx, v)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockAuthority) ClaimsByIndex(ctx context.Context, index uint64) (uint64, error) {
	args := m.Called(ctx, index)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockAuthority) ValidatorCount(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockAuthority) ValidatorAt(ctx context.Context, index uint64) (common.Address, error) {
	args := m.Called(ctx, index)
	return args.Get(0).(common.Address), args.Error(1)
}
