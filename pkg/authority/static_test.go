package authority_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/canopy-network/feeledger/pkg/authority"
	"github.com/canopy-network/feeledger/pkg/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_RegisterAndClaims(t *testing.T) {
	ctx := context.Background()
	s := authority.NewStatic(validatorA, validatorB)

	assert.Equal(t, uint64(0), s.Register(validatorA), "re-registering keeps the index")

	require.NoError(t, s.SetClaims(validatorA, 10))
	require.NoError(t, s.AddClaims(validatorA, 5))

	idx, err := s.ValidatorIndex(ctx, validatorA)
	require.NoError(t, err)
	claims, err := s.ClaimsByIndex(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), claims)

	count, err := s.ValidatorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestStatic_RemoveLeavesEmptySlot(t *testing.T) {
	ctx := context.Background()
	s := authority.NewStatic(validatorA, validatorB)
	s.Remove(validatorA)

	addr, err := s.ValidatorAt(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, addr)

	_, err = s.ValidatorIndex(ctx, validatorA)
	assert.ErrorIs(t, err, authority.ErrUnknownValidator)

	idx, err := s.ValidatorIndex(ctx, validatorB)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)
}

func TestStatic_UnknownValidator(t *testing.T) {
	s := authority.NewStatic()
	assert.ErrorIs(t, s.SetClaims(validatorA, 1), authority.ErrUnknownValidator)
	assert.ErrorIs(t, s.AddClaims(validatorA, 1), authority.ErrUnknownValidator)
	_, err := s.ClaimsByIndex(context.Background(), 3)
	assert.ErrorIs(t, err, authority.ErrUnknownValidator)
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validators.json")
	seed := `[
		{"address": "0x00000000000000000000000000000000000000a1", "claims": 10},
		{"address": "0x00000000000000000000000000000000000000b2", "claims": 3}
	]`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	s, err := authority.LoadStatic(path)
	require.NoError(t, err)

	ctx := context.Background()
	idx, err := s.ValidatorIndex(ctx, validatorB)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)
	claims, err := s.ClaimsByIndex(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), claims)
}

func TestLoadStatic_RejectsZeroAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validators.json")
	seed := `[{"address": "0x0000000000000000000000000000000000000000", "claims": 1}]`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	_, err := authority.LoadStatic(path)
	assert.ErrorIs(t, err, ledger.ErrInvalidAddress)
}
