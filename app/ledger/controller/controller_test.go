package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	apitypes "github.com/canopy-network/feeledger/app/ledger/controller/types"
	"github.com/canopy-network/feeledger/app/ledger/types"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFee(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/fee", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[apitypes.FeeResponse](t, rec)
	assert.Equal(t, "10", got.FeePerClaim)
	assert.Equal(t, tokenAddr.Hex(), got.Token)
}

func TestRedeemFlow(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.auth.SetClaims(validatorA, 3))
	path := "/api/validators/" + validatorA.Hex()

	rec := env.do(t, http.MethodGet, path+"/redeemable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(3), decode[apitypes.CountResponse](t, rec).Count)

	rec = env.do(t, http.MethodPost, path+"/redeem", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	red := decode[ledger.Redemption](t, rec)
	assert.Equal(t, validatorA, red.Validator)
	assert.Equal(t, "30", red.Amount.Dec())

	rec = env.do(t, http.MethodGet, path+"/redeemed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(3), decode[apitypes.CountResponse](t, rec).Count)

	rec = env.do(t, http.MethodGet, path+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "30", decode[apitypes.BalanceResponse](t, rec).Balance)

	rec = env.do(t, http.MethodPost, path+"/redeem", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "nothing_to_redeem", decode[apitypes.ErrorResponse](t, rec).Code)
}

func TestValidatorAddressErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"malformed", http.MethodGet, "/api/validators/not-an-address/redeemable", http.StatusBadRequest, "invalid_address"},
		{"zero", http.MethodPost, "/api/validators/0x0000000000000000000000000000000000000000/redeem", http.StatusBadRequest, "invalid_address"},
		{"unknown", http.MethodGet, "/api/validators/" + stranger.Hex() + "/redeemable", http.StatusNotFound, "unknown_validator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[apitypes.ErrorResponse](t, rec).Code)
		})
	}
}

func TestResetFee(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.auth.SetClaims(validatorA, 2))
	require.NoError(t, env.auth.SetClaims(validatorB, 1))
	body := map[string]string{"feePerClaim": "25"}

	rec := env.do(t, http.MethodPost, "/api/admin/fee", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/fee", body, withToken(testToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "25", decode[apitypes.FeeResponse](t, rec).FeePerClaim)

	// claims made before the reset were paid at the old price
	bal, err := env.store.BalanceOf(context.Background(), validatorA)
	require.NoError(t, err)
	assert.Equal(t, "20", bal.Dec())
	bal, err = env.store.BalanceOf(context.Background(), validatorB)
	require.NoError(t, err)
	assert.Equal(t, "10", bal.Dec())

	rec = env.do(t, http.MethodPost, "/api/admin/fee", map[string]string{"feePerClaim": "-1"}, withToken(testToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetFeeSessionUsers(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"feePerClaim": "30"}

	viewer := env.login(t, "viewer", "viewer-pass")
	rec := env.do(t, http.MethodPost, "/api/admin/fee", body, withCookie(viewer))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", decode[apitypes.ErrorResponse](t, rec).Code)

	admin := env.login(t, "admin", "admin-pass")
	rec = env.do(t, http.MethodPost, "/api/admin/fee", body, withCookie(admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	fee, err := env.ctl.App.Ledger.FeePerClaim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "30", fee.Dec())
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "nobody", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeposit(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"amount": "500"}

	viewer := env.login(t, "viewer", "viewer-pass")
	rec := env.do(t, http.MethodPost, "/api/admin/pool/deposit", body, withCookie(viewer))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/pool/deposit", body, withToken(testToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1500", decode[apitypes.BalanceResponse](t, rec).Balance)

	rec = env.do(t, http.MethodPost, "/api/admin/pool/deposit", map[string]string{"amount": "0"}, withToken(testToken))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_amount", decode[apitypes.ErrorResponse](t, rec).Code)
}

func TestStateAndEvents(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.auth.SetClaims(validatorA, 4))

	rec := env.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[ledger.State](t, rec)
	assert.Equal(t, owner, st.Owner)
	assert.Equal(t, "1000", st.PoolBalance.Dec())
	require.Len(t, st.Validators, 2)
	assert.Equal(t, uint64(4), st.Validators[0].Redeemable)
	assert.Equal(t, "40", st.Validators[0].Owed.Dec())

	rec = env.do(t, http.MethodPost, "/api/validators/"+validatorA.Hex()+"/redeem", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/events?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	evs := decode[[]ledger.Event](t, rec)
	require.Len(t, evs, 1)
	assert.Equal(t, ledger.EventFeeRedeemed, evs[0].Type)

	rec = env.do(t, http.MethodGet, "/api/events?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"authority": "ok"}, decode[map[string]string](t, rec))

	env.ctl.App.Checks["postgres"] = types.Pinger(pingFunc(func(context.Context) error { return errPingFailed }))
	rec = env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, errPingFailed.Error(), decode[map[string]string](t, rec)["postgres"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	h := WithCORS(env.router)

	req := httptest.NewRequest(http.MethodOptions, "/api/fee", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ledger.ErrInvalidAddress, http.StatusBadRequest},
		{ledger.ErrNothingToRedeem, http.StatusConflict},
		{ledger.ErrUnauthorized, http.StatusForbidden},
		{ledger.ErrUnderflow, http.StatusBadGateway},
		{ledger.ErrTooManyValidators, http.StatusBadGateway},
		{ledger.ErrTransferFailed, http.StatusUnprocessableEntity},
		{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{ledger.ErrOverflow, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
