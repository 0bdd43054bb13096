package authority

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
)

type indexRequest struct {
	Address common.Address `json:"address"`
}

type indexResponse struct {
	Index uint64 `json:"index"`
}

type byIndexRequest struct {
	Index uint64 `json:"index"`
}

type claimsResponse struct {
	Claims uint64 `json:"claims"`
}

type countResponse struct {
	Count uint64 `json:"count"`
}

type addressResponse struct {
	Address common.Address `json:"address"`
}

// Client is a ledger.ClaimAuthority backed by a remote claims service.
// Validator indices are stable, so resolved indices are cached for the
// lifetime of the client.
type Client struct {
	http    *HTTPClient
	indices *xsync.Map[common.Address, uint64]
}

// NewClient returns a ClaimAuthority that talks to the given endpoints.
func NewClient(o Opts) *Client {
	return &Client{
		http:    NewHTTPWithOpts(o),
		indices: xsync.NewMap[common.Address, uint64](),
	}
}

func (c *Client) ValidatorIndex(ctx context.Context, validator common.Address) (uint64, error) {
	if idx, ok := c.indices.Load(validator); ok {
		return idx, nil
	}
	var resp indexResponse
	if err := c.http.doJSON(ctx, http.MethodPost, validatorIndexPath, indexRequest{Address: validator}, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownValidator, validator.Hex())
		}
		return 0, err
	}
	c.indices.Store(validator, resp.Index)
	return resp.Index, nil
}

func (c *Client) ClaimsByIndex(ctx context.Context, index uint64) (uint64, error) {
	var resp claimsResponse
	if err := c.http.doJSON(ctx, http.MethodPost, validatorClaimsPath, byIndexRequest{Index: index}, &resp); err != nil {
		return 0, err
	}
	return resp.Claims, nil
}

func (c *Client) ValidatorCount(ctx context.Context) (uint64, error) {
	var resp countResponse
	if err := c.http.doJSON(ctx, http.MethodPost, validatorCountPath, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// ValidatorAt returns the address in slot index. Unknown slots read as the zero address.
func (c *Client) ValidatorAt(ctx context.Context, index uint64) (common.Address, error) {
	var resp addressResponse
	if err := c.http.doJSON(ctx, http.MethodPost, validatorAtPath, byIndexRequest{Index: index}, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return common.Address{}, nil
		}
		return common.Address{}, err
	}
	if resp.Address != (common.Address{}) {
		c.indices.Store(resp.Address, index)
	}
	return resp.Address, nil
}

// Ping checks that at least one endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ValidatorCount(ctx)
	return err
}

var _ ledger.ClaimAuthority = (*Client)(nil)
