package controller

import (
	"net/http"
	"strconv"

	"github.com/canopy-network/feeledger/app/ledger/controller/types"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
)

const maxEventsLimit = 1000

// pathAddress reads the {address} route variable. Malformed input is
// reported the same way as the zero address.
func pathAddress(r *http.Request) (common.Address, error) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		return common.Address{}, ledger.ErrInvalidAddress
	}
	return common.HexToAddress(raw), nil
}

func (c *Controller) HandleFee(w http.ResponseWriter, r *http.Request) {
	fee, err := c.App.Ledger.FeePerClaim(r.Context())
	if err != nil {
		c.writeError(w, "fee per claim", err)
		return
	}
	writeJSON(w, http.StatusOK, types.FeeResponse{FeePerClaim: fee.Dec(), Token: c.App.Ledger.Token().Hex()})
}

func (c *Controller) HandleRedeemable(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		c.writeError(w, "redeemable count", err)
		return
	}
	n, err := c.App.Ledger.RedeemableCount(r.Context(), addr)
	if err != nil {
		c.writeError(w, "redeemable count", err)
		return
	}
	writeJSON(w, http.StatusOK, types.CountResponse{Validator: addr.Hex(), Count: n})
}

func (c *Controller) HandleRedeemed(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		c.writeError(w, "redeemed count", err)
		return
	}
	n, err := c.App.Ledger.RedeemedCount(r.Context(), addr)
	if err != nil {
		c.writeError(w, "redeemed count", err)
		return
	}
	writeJSON(w, http.StatusOK, types.CountResponse{Validator: addr.Hex(), Count: n})
}

func (c *Controller) HandleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		c.writeError(w, "balance", err)
		return
	}
	bal, err := c.App.Tokens.BalanceOf(r.Context(), addr)
	if err != nil {
		c.writeError(w, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, types.BalanceResponse{Address: addr.Hex(), Token: c.App.Tokens.Token().Hex(), Balance: bal.Dec()})
}

// HandleRedeem pays a validator its outstanding claims. Anyone may trigger it.
func (c *Controller) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		c.writeError(w, "redeem", err)
		return
	}
	red, err := c.App.Ledger.RedeemFee(r.Context(), addr)
	if err != nil {
		c.writeError(w, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

func (c *Controller) HandleState(w http.ResponseWriter, r *http.Request) {
	st, err := c.App.Ledger.State(r.Context())
	if err != nil {
		c.writeError(w, "state", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleEvents lists the audit log, newest first.
func (c *Controller) HandleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventsLimit)
	}
	evs, err := c.App.Ledger.Events(r.Context(), limit)
	if err != nil {
		c.writeError(w, "events", err)
		return
	}
	if evs == nil {
		evs = []ledger.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}
