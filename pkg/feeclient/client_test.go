package feeclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/canopy-network/feeledger/app/ledger/controller"
	"github.com/canopy-network/feeledger/app/ledger/types"
	"github.com/canopy-network/feeledger/pkg/authority"
	"github.com/canopy-network/feeledger/pkg/feeclient"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/canopy-network/feeledger/pkg/store/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	owner      = common.HexToAddress("0x000000000000000000000000000000000000f00d")
	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	tokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000070c3")
	validatorA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	validatorB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newServer(t *testing.T) (*httptest.Server, *authority.Static) {
	t.Helper()
	ctx := context.Background()
	store := memory.New(tokenAddr, poolAddr)
	require.NoError(t, store.Deposit(ctx, uint256.NewInt(100)))
	auth := authority.NewStatic(validatorA, validatorB)

	l, err := ledger.New(ctx, ledger.Options{
		Logger:             zaptest.NewLogger(t),
		Authority:          auth,
		Tokens:             store,
		State:              store,
		Owner:              owner,
		InitialFeePerClaim: uint256.NewInt(10),
	})
	require.NoError(t, err)
	t.Cleanup(l.Close)

	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("BCRYPT_COST", "4")
	ctl, err := controller.NewController(&types.App{
		Ledger: l,
		Tokens: store,
		Logger: zaptest.NewLogger(t),
		Checks: map[string]types.Pinger{},
	})
	require.NoError(t, err)
	router, err := ctl.NewRouter()
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, auth
}

func TestClientRoundTrip(t *testing.T) {
	srv, auth := newServer(t)
	ctx := context.Background()
	require.NoError(t, auth.SetClaims(validatorA, 2))
	c := feeclient.New(srv.URL, "secret", nil)

	fee, err := c.FeePerClaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10", fee.FeePerClaim)

	n, err := c.RedeemableCount(ctx, validatorA)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	red, err := c.RedeemFee(ctx, validatorA)
	require.NoError(t, err)
	assert.Equal(t, "20", red.Amount.Dec())
	assert.Equal(t, uint64(2), red.Claims)

	n, err = c.RedeemedCount(ctx, validatorA)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	bal, err := c.BalanceOf(ctx, validatorA)
	require.NoError(t, err)
	assert.Equal(t, "20", bal.Balance)

	_, err = c.RedeemFee(ctx, validatorA)
	require.ErrorIs(t, err, ledger.ErrNothingToRedeem)
	var apiErr *feeclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	dep, err := c.Deposit(ctx, uint256.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, "130", dep.Balance)

	reset, err := c.ResetFeePerClaim(ctx, uint256.NewInt(15))
	require.NoError(t, err)
	assert.Equal(t, "15", reset.FeePerClaim)

	st, err := c.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "15", st.FeePerClaim.Dec())
	assert.Equal(t, "130", st.PoolBalance.Dec())

	evs, err := c.Events(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ledger.EventFeePerClaimReset, evs[0].Type)
	assert.Equal(t, ledger.EventPoolFunded, evs[1].Type)
}

func TestClientErrors(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	anon := feeclient.New(srv.URL, "", nil)
	_, err := anon.ResetFeePerClaim(ctx, uint256.NewInt(1))
	var apiErr *feeclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = anon.RedeemFee(ctx, common.Address{})
	require.ErrorIs(t, err, ledger.ErrInvalidAddress)

	_, err = anon.Deposit(ctx, uint256.NewInt(0))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
