package controller

import (
	"fmt"
	"net/http"

	"github.com/canopy-network/feeledger/app/ledger/types"
	"github.com/canopy-network/feeledger/pkg/redis"
	"github.com/canopy-network/feeledger/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

type Controller struct {
	App        *types.App
	AdminToken string
	Users      map[string]types.User
	JWTSecret  []byte

	// Stream feeds /api/ws; nil disables it.
	Stream redis.StreamReader
}

// NewController returns a new controller. The ADMIN_USER account acts as the
// ledger owner; ADMIN_USERS may add more users as a JSON object keyed by
// username.
func NewController(app *types.App) (*Controller, error) {
	adminToken := utils.Env("ADMIN_TOKEN", "devtoken")
	adminUser := utils.Env("ADMIN_USER", "admin")
	adminUsersJSON := utils.Env("ADMIN_USERS", "")
	adminPass := utils.Env("ADMIN_PASSWORD", "admin")
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	phash, err := utils.HashOrRead(adminPass, utils.EnvInt("BCRYPT_COST", 0))
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	users := map[string]types.User{}
	users[adminUser] = types.User{Username: adminUser, Hash: phash, Role: "admin", Address: app.Ledger.Owner()}
	if adminUsersJSON != "" {
		if err := json.Unmarshal([]byte(adminUsersJSON), &users); err != nil {
			return nil, fmt.Errorf("parse ADMIN_USERS: %w", err)
		}
	}

	c := &Controller{
		App:        app,
		AdminToken: adminToken,
		Users:      users,
		JWTSecret:  jwtSecret,
	}
	if app.RedisClient != nil {
		c.Stream = app.RedisClient
	}
	return c, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the ledger routes.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/login", c.HandleAdminLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleAdminLogout).Methods(http.MethodPost)

	// Public ledger reads; redemption is permissionless and always pays the validator
	r.HandleFunc("/api/fee", c.HandleFee).Methods(http.MethodGet)
	r.HandleFunc("/api/state", c.HandleState).Methods(http.MethodGet)
	r.HandleFunc("/api/events", c.HandleEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/validators/{address}/redeemable", c.HandleRedeemable).Methods(http.MethodGet)
	r.HandleFunc("/api/validators/{address}/redeemed", c.HandleRedeemed).Methods(http.MethodGet)
	r.HandleFunc("/api/validators/{address}/balance", c.HandleBalance).Methods(http.MethodGet)
	r.HandleFunc("/api/validators/{address}/redeem", c.HandleRedeem).Methods(http.MethodPost)

	// Owner operations
	r.Handle("/api/admin/fee", c.RequireAuth(http.HandlerFunc(c.HandleResetFee))).Methods(http.MethodPost)
	r.Handle("/api/admin/pool/deposit", c.RequireAdmin(http.HandlerFunc(c.HandleDeposit))).Methods(http.MethodPost)

	r.HandleFunc("/api/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}
