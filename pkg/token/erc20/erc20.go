// Package erc20 pays fees with a real ERC20 token. Transfers are signed with
// the ledger's key and are final once sent, so they do not roll back with
// the ledger's state store.
package erc20

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var parsedABI = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return a
}()

// ErrReverted is returned when a transfer is mined with a failed status.
var ErrReverted = errors.New("transfer reverted")

// Backend is the subset of *ethclient.Client the token store uses.
type Backend interface {
	bind.DeployBackend
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config configures a Store.
type Config struct {
	Token         common.Address
	ChainID       *big.Int
	Key           *ecdsa.PrivateKey
	Confirmations uint64
	PollInterval  time.Duration
	// ConfirmTimeout bounds the wait for mining and confirmations once a
	// transfer has been sent. The wait ignores the caller's cancellation.
	// Defaults to 10 minutes.
	ConfirmTimeout time.Duration
}

const defaultConfirmTimeout = 10 * time.Minute

// Store implements ledger.TokenStore on top of an ERC20 contract. The pool is
// the key's account balance.
type Store struct {
	logger  *zap.Logger
	backend Backend
	cfg     Config
	from    common.Address
	signer  types.Signer

	mu sync.Mutex // serializes nonce use
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, logger *zap.Logger, rpcURL, hexKey string, token common.Address, chainID *big.Int, confirmations uint64, confirmTimeout time.Duration) (*Store, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse ERC20_PRIVATE_KEY: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	if chainID == nil || chainID.Sign() == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}
	return New(logger, client, Config{
		Token:          token,
		ChainID:        chainID,
		Key:            key,
		Confirmations:  confirmations,
		ConfirmTimeout: confirmTimeout,
	}), nil
}

// New wraps backend.
func New(logger *zap.Logger, backend Backend, cfg Config) *Store {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	from := crypto.PubkeyToAddress(cfg.Key.PublicKey)
	logger.Info("ERC20 token store configured",
		zap.String("token", cfg.Token.Hex()),
		zap.String("pool", from.Hex()),
		zap.String("chain_id", cfg.ChainID.String()))
	return &Store{
		logger:  logger,
		backend: backend,
		cfg:     cfg,
		from:    from,
		signer:  types.LatestSignerForChainID(cfg.ChainID),
	}
}

func (s *Store) Token() common.Address { return s.cfg.Token }

// Irrevocable reports that sent transfers cannot be rolled back.
func (s *Store) Irrevocable() bool { return true }

// Account is the address paying fees.
func (s *Store) Account() common.Address { return s.from }

func (s *Store) Balance(ctx context.Context) (*uint256.Int, error) {
	return s.BalanceOf(ctx, s.from)
}

func (s *Store) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	data, err := parsedABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	token := s.cfg.Token
	out, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", owner.Hex(), err)
	}
	values, err := parsedABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf: %w", err)
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode balanceOf: unexpected %T", values[0])
	}
	bal, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, ledger.ErrOverflow
	}
	return bal, nil
}

// Transfer signs, sends and waits for an ERC20 transfer to `to`. Errors before
// the send mean nothing moved. Once sent, a transfer that cannot be seen mined
// and confirmed returns ledger.ErrTransferPending, and a reverted one returns
// ErrReverted.
func (s *Store) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := parsedABI.Pack("transfer", to, amount.ToBig())
	if err != nil {
		return err
	}
	token := s.cfg.Token
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &token, Data: data})
	if err != nil {
		return fmt.Errorf("estimate gas: %w", err)
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &token,
		Data:     data,
	}), s.signer, s.cfg.Key)
	if err != nil {
		return fmt.Errorf("sign transfer: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("send transfer: %w", err)
	}
	s.logger.Debug("ERC20 transfer sent",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.Dec()),
		zap.Uint64("nonce", nonce))

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, s.backend, tx)
	if err != nil {
		return s.pending(tx, "wait for receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	if err := s.waitConfirmations(waitCtx, receipt); err != nil {
		return s.pending(tx, "wait for confirmations", err)
	}
	return nil
}

func (s *Store) pending(tx *types.Transaction, stage string, err error) error {
	s.logger.Warn("ERC20 transfer unconfirmed",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("stage", stage),
		zap.Error(err))
	return fmt.Errorf("%w: %s: %s: %w", ledger.ErrTransferPending, tx.Hash().Hex(), stage, err)
}

func (s *Store) waitConfirmations(ctx context.Context, receipt *types.Receipt) error {
	if s.cfg.Confirmations <= 1 || receipt.BlockNumber == nil {
		return nil
	}
	target := receipt.BlockNumber.Uint64() + s.cfg.Confirmations - 1
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		head, err := s.backend.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("block number: %w", err)
		}
		if head >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ ledger.TokenStore = (*Store)(nil)
