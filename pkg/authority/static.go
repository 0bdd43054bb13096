package authority

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-jose/go-jose/v4/json"
)

// Static is an in-memory ClaimAuthority. Slots are assigned in registration
// order; a removed validator leaves a zero-address slot behind.
type Static struct {
	mu     sync.RWMutex
	slots  []common.Address
	claims []uint64
	index  map[common.Address]uint64
}

// NewStatic registers validators in order.
func NewStatic(validators ...common.Address) *Static {
	s := &Static{index: make(map[common.Address]uint64)}
	for _, v := range validators {
		s.Register(v)
	}
	return s
}

// SeedEntry is one validator of a static seed file.
type SeedEntry struct {
	Address common.Address `json:"address"`
	Claims  uint64         `json:"claims"`
}

// LoadStatic reads a JSON array of SeedEntry.
func LoadStatic(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authority seed: %w", err)
	}
	var entries []SeedEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse authority seed %s: %w", path, err)
	}
	s := NewStatic()
	for _, e := range entries {
		if e.Address == (common.Address{}) {
			return nil, fmt.Errorf("authority seed %s: %w", path, ledger.ErrInvalidAddress)
		}
		s.Register(e.Address)
		if err := s.SetClaims(e.Address, e.Claims); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds validator and returns its index. Registering twice returns the existing index.
func (s *Static) Register(validator common.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.index[validator]; ok {
		return idx
	}
	idx := uint64(len(s.slots))
	s.slots = append(s.slots, validator)
	s.claims = append(s.claims, 0)
	s.index[validator] = idx
	return idx
}

// Remove empties the validator's slot. Its index is not reused.
func (s *Static) Remove(validator common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.index[validator]; ok {
		s.slots[idx] = common.Address{}
		delete(s.index, validator)
	}
}

// SetClaims overwrites the validator's cumulative claim count.
func (s *Static) SetClaims(validator common.Address, claims uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[validator]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, validator.Hex())
	}
	s.claims[idx] = claims
	return nil
}

// AddClaims records n more claims for the validator.
func (s *Static) AddClaims(validator common.Address, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[validator]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, validator.Hex())
	}
	s.claims[idx] += n
	return nil
}

func (s *Static) ValidatorIndex(_ context.Context, validator common.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[validator]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownValidator, validator.Hex())
	}
	return idx, nil
}

func (s *Static) ClaimsByIndex(_ context.Context, index uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= uint64(len(s.claims)) {
		return 0, fmt.Errorf("claims for index %d: %w", index, ErrUnknownValidator)
	}
	return s.claims[index], nil
}

func (s *Static) ValidatorCount(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.slots)), nil
}

func (s *Static) ValidatorAt(_ context.Context, index uint64) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= uint64(len(s.slots)) {
		return common.Address{}, nil
	}
	return s.slots[index], nil
}

// Ping always succeeds.
func (s *Static) Ping(context.Context) error { return nil }

var _ ledger.ClaimAuthority = (*Static)(nil)
