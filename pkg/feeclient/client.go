// Package feeclient is a client for the fee ledger HTTP API.
package feeclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/canopy-network/feeledger/app/ledger/controller/types"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/canopy-network/feeledger/pkg/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/holiman/uint256"
)

// APIError is a non-2xx response. It unwraps to the matching ledger error
// when the server reported a known code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

var codeErrors = map[string]error{
	"invalid_address":     ledger.ErrInvalidAddress,
	"invalid_amount":      ledger.ErrInvalidAmount,
	"nothing_to_redeem":   ledger.ErrNothingToRedeem,
	"unauthorized":        ledger.ErrUnauthorized,
	"underflow":           ledger.ErrUnderflow,
	"too_many_validators": ledger.ErrTooManyValidators,
	"transfer_failed":     ledger.ErrTransferFailed,
	"overflow":            ledger.ErrOverflow,
	"funding_unsupported": ledger.ErrFundingUnsupported,
}

func (e *APIError) Unwrap() error { return codeErrors[e.Code] }

type Client struct {
	base  string
	token string
	http  *http.Client
}

// New returns a client for the server at base. token, when set, is sent as
// a bearer token on every request.
func New(base, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), token: token, http: hc}
}

func (c *Client) FeePerClaim(ctx context.Context) (*types.FeeResponse, error) {
	var out types.FeeResponse
	return &out, c.do(ctx, http.MethodGet, "/api/fee", nil, &out)
}

func (c *Client) RedeemableCount(ctx context.Context, validator common.Address) (uint64, error) {
	var out types.CountResponse
	err := c.do(ctx, http.MethodGet, validatorPath(validator, "redeemable"), nil, &out)
	return out.Count, err
}

func (c *Client) RedeemedCount(ctx context.Context, validator common.Address) (uint64, error) {
	var out types.CountResponse
	err := c.do(ctx, http.MethodGet, validatorPath(validator, "redeemed"), nil, &out)
	return out.Count, err
}

func (c *Client) BalanceOf(ctx context.Context, owner common.Address) (*types.BalanceResponse, error) {
	var out types.BalanceResponse
	return &out, c.do(ctx, http.MethodGet, validatorPath(owner, "balance"), nil, &out)
}

func (c *Client) RedeemFee(ctx context.Context, validator common.Address) (*ledger.Redemption, error) {
	var out ledger.Redemption
	if err := c.do(ctx, http.MethodPost, validatorPath(validator, "redeem"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResetFeePerClaim(ctx context.Context, fee *uint256.Int) (*types.FeeResponse, error) {
	var out types.FeeResponse
	return &out, c.do(ctx, http.MethodPost, "/api/admin/fee", types.ResetFeeRequest{FeePerClaim: fee.Dec()}, &out)
}

func (c *Client) Deposit(ctx context.Context, amount *uint256.Int) (*types.BalanceResponse, error) {
	var out types.BalanceResponse
	return &out, c.do(ctx, http.MethodPost, "/api/admin/pool/deposit", types.DepositRequest{Amount: amount.Dec()}, &out)
}

func (c *Client) State(ctx context.Context) (*ledger.State, error) {
	var out ledger.State
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Events(ctx context.Context, limit int) ([]ledger.Event, error) {
	path := "/api/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []ledger.Event
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func validatorPath(a common.Address, op string) string {
	return "/api/validators/" + url.PathEscape(a.Hex()) + "/" + op
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var er types.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
			apiErr.Code, apiErr.Message = er.Code, er.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
