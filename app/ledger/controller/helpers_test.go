package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/canopy-network/feeledger/app/ledger/types"
	"github.com/canopy-network/feeledger/pkg/authority"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/canopy-network/feeledger/pkg/store/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const testToken = "test-token"

var (
	owner      = common.HexToAddress("0x000000000000000000000000000000000000f00d")
	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	tokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000070c3")
	stranger   = common.HexToAddress("0x000000000000000000000000000000000000dead")
	validatorA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	validatorB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	ctl    *Controller
	router *mux.Router
	auth   *authority.Static
	store  *memory.Store
}

// newTestEnv builds a controller over an in-memory ledger priced at 10 with
// 1000 tokens in the pool. The "admin" user owns the ledger; "viewer" does not.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.New(tokenAddr, poolAddr)
	require.NoError(t, store.Deposit(ctx, uint256.NewInt(1000)))
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

	viewerHash, err := bcrypt.GenerateFromPassword([]byte("viewer-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	extra, err := json.Marshal(map[string]types.User{
		"viewer": {Username: "viewer", Hash: viewerHash, Role: "viewer", Address: stranger},
	})
	require.NoError(t, err)

	t.Setenv("ADMIN_TOKEN", testToken)
	t.Setenv("ADMIN_USER", "admin")
	t.Setenv("ADMIN_PASSWORD", "admin-pass")
	t.Setenv("ADMIN_USERS", string(extra))
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("BCRYPT_COST", "4")

	app := &types.App{
		Ledger: l,
		Tokens: store,
		Logger: zaptest.NewLogger(t),
		Checks: map[string]types.Pinger{"authority": auth},
	}
	ctl, err := NewController(app)
	require.NoError(t, err)
	router, err := ctl.NewRouter()
	require.NoError(t, err)

	return &testEnv{ctl: ctl, router: router, auth: auth, store: store}
}

type requestOpt func(*http.Request)

func withToken(token string) requestOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) requestOpt {
	return func(r *http.Request) { r.AddCookie(c) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOpt) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, user, pass string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": user, "password": pass})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

var errPingFailed = errors.New("connection refused")
