package controller

import (
	"net/http"
	"time"

	"github.com/canopy-network/feeledger/app/ledger/controller/types"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// HandleAdminLogin handles admin login
func (c *Controller) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var in types.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	u, ok := c.Users[in.Username]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(u.Hash, []byte(in.Password)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	c.IssueSession(w, u)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// HandleAdminLogout handles admin logout
func (c *Controller) HandleAdminLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleResetFee settles every validator and changes the fee per claim. The
// ledger itself rejects callers other than the owner.
func (c *Controller) HandleResetFee(w http.ResponseWriter, r *http.Request) {
	user, ok := c.currentUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var in types.ResetFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	fee, err := uint256.FromDecimal(in.FeePerClaim)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "feePerClaim must be a decimal integer"})
		return
	}

	if err := c.App.Ledger.ResetFeePerClaim(r.Context(), user.Address, fee); err != nil {
		c.writeError(w, "reset fee per claim", err)
		return
	}
	c.App.Logger.Info("Fee per claim reset via API",
		zap.String("user", user.Username),
		zap.String("fee_per_claim", fee.Dec()))
	writeJSON(w, http.StatusOK, types.FeeResponse{FeePerClaim: fee.Dec(), Token: c.App.Ledger.Token().Hex()})
}

// HandleDeposit credits the fee pool.
func (c *Controller) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var in types.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	amount, err := uint256.FromDecimal(in.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be a decimal integer"})
		return
	}
	if err := c.App.Ledger.Fund(r.Context(), amount); err != nil {
		c.writeError(w, "fund pool", err)
		return
	}
	balance, err := c.App.Tokens.Balance(r.Context())
	if err != nil {
		c.writeError(w, "read pool balance", err)
		return
	}
	writeJSON(w, http.StatusOK, types.BalanceResponse{Address: "pool", Token: c.App.Tokens.Token().Hex(), Balance: balance.Dec()})
}
