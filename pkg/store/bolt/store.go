// Package bolt keeps ledger state, the token pool and the event log in a
// single bolt file. One bolt update transaction backs each unit of work.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var (
	settingsBucket = []byte("settings")
	redeemedBucket = []byte("claims_redeemed")
	balanceBucket  = []byte("balances")
	eventBucket    = []byte("events")

	feePerClaimKey = []byte("fee_per_claim")
)

type txKey struct{}

// Store implements ledger.StateStore, ledger.TokenStore and ledger.Depositor.
type Store struct {
	logger  *zap.Logger
	db      *bolt.DB
	token   common.Address
	account common.Address
}

// Open opens (creating if needed) the bolt file at path.
func Open(logger *zap.Logger, path string, token, account common.Address) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{settingsBucket, redeemedBucket, balanceBucket, eventBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("Bolt store opened", zap.String("path", path))
	return &Store{logger: logger, db: db, token: token, account: account}, nil
}

// Close releases the bolt file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the file is still open.
func (s *Store) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *Store) ctxTx(ctx context.Context) *bolt.Tx {
	tx, ok := ctx.Value(txKey{}).(*bolt.Tx)
	if !ok || tx.DB() != s.db {
		return nil
	}
	return tx
}

// Atomic runs fn inside one bolt update transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.ctxTx(ctx) != nil {
		return fn(ctx)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx := s.ctxTx(ctx); tx != nil {
		return fn(tx)
	}
	return s.db.View(fn)
}

func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx := s.ctxTx(ctx); tx != nil {
		return fn(tx)
	}
	return s.db.Update(fn)
}

func (s *Store) FeePerClaim(ctx context.Context) (*uint256.Int, bool, error) {
	var (
		fee   *uint256.Int
		found bool
	)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		raw := tx.Bucket(settingsBucket).Get(feePerClaimKey)
		if raw == nil {
			return nil
		}
		fee, found = new(uint256.Int).SetBytes(raw), true
		return nil
	})
	return fee, found, err
}

func (s *Store) SetFeePerClaim(ctx context.Context, fee *uint256.Int) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put(feePerClaimKey, word(fee))
	})
}

func (s *Store) ClaimsRedeemed(ctx context.Context, index uint64) (uint64, error) {
	var n uint64
	err := s.view(ctx, func(tx *bolt.Tx) error {
		if raw := tx.Bucket(redeemedBucket).Get(u64Key(index)); raw != nil {
			n = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	return n, err
}

func (s *Store) SetClaimsRedeemed(ctx context.Context, index uint64, count uint64) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(redeemedBucket).Put(u64Key(index), u64Key(count))
	})
}

func (s *Store) AppendEvent(ctx context.Context, ev ledger.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(eventBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(u64Key(seq), raw)
	})
}

// ListEvents returns the newest events first. A non-positive limit returns all.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]ledger.Event, error) {
	var out []ledger.Event
	err := s.view(ctx, func(tx *bolt.Tx) error {
		c := tx.Bucket(eventBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var ev ledger.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("decode event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

func (s *Store) Token() common.Address { return s.token }

func (s *Store) Balance(ctx context.Context) (*uint256.Int, error) {
	return s.BalanceOf(ctx, s.account)
}

func (s *Store) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	bal := new(uint256.Int)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		if raw := tx.Bucket(balanceBucket).Get(owner.Bytes()); raw != nil {
			bal.SetBytes(raw)
		}
		return nil
	})
	return bal, err
}

// Transfer moves amount from the pool account to `to`.
func (s *Store) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(balanceBucket)
		from := new(uint256.Int).SetBytes(b.Get(s.account.Bytes()))
		if from.Lt(amount) {
			return fmt.Errorf("%w: pool holds %s, transfer needs %s", ledger.ErrInsufficientFunds, from.Dec(), amount.Dec())
		}
		if to == s.account {
			return nil
		}
		from.Sub(from, amount)
		if err := b.Put(s.account.Bytes(), word(from)); err != nil {
			return err
		}
		dst := new(uint256.Int).SetBytes(b.Get(to.Bytes()))
		if _, overflow := dst.AddOverflow(dst, amount); overflow {
			return fmt.Errorf("credit %s: %w", to.Hex(), ledger.ErrOverflow)
		}
		return b.Put(to.Bytes(), word(dst))
	})
}

// Deposit credits the pool account.
func (s *Store) Deposit(ctx context.Context, amount *uint256.Int) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(balanceBucket)
		bal := new(uint256.Int).SetBytes(b.Get(s.account.Bytes()))
		if _, overflow := bal.AddOverflow(bal, amount); overflow {
			return ledger.ErrOverflow
		}
		return b.Put(s.account.Bytes(), word(bal))
	})
}

// word encodes v as a fixed 32-byte big-endian value.
func word(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

func u64Key(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

var (
	_ ledger.StateStore = (*Store)(nil)
	_ ledger.TokenStore = (*Store)(nil)
	_ ledger.Depositor  = (*Store)(nil)
)
