package common

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"accumreg/core/identity"
)

type nonceMap map[string][]byte

func (m nonceMap) ReadMap(_ context.Context, module, name string, key []byte) ([]byte, bool, error) {
	if module != SystemModule || name != MapNonces {
		return nil, false, nil
	}
	v, ok := m[string(key)]
	return v, ok, nil
}

func TestCheckNonce(t *testing.T) {
	require.NoError(t, CheckNonce(0, 1))
	require.NoError(t, CheckNonce(41, 42))
	for _, got := range []uint64{0, 41, 43} {
		err := CheckNonce(41, got)
		require.True(t, errors.Is(err, ErrNonceMismatch), "nonce %d", got)
	}
}

func TestResolveNonce(t *testing.T) {
	ctx := context.Background()
	alice := identity.Identity{0xa1}
	bob := identity.Identity{0xb0}
	state := nonceMap{string(alice.Bytes()): EncodeNonce(6)}

	next, err := ResolveNonce(ctx, state, Keypair{DID: alice})
	require.NoError(t, err)
	require.Equal(t, uint64(7), next)

	next, err = ResolveNonce(ctx, state, Keypair{DID: bob})
	require.NoError(t, err)
	require.Equal(t, uint64(1), next, "unknown signers start at one")

	next, err = ResolveNonce(ctx, state, PrecomputedSignature{DID: alice, Nonce: 3, Signature: []byte{1}})
	require.NoError(t, err)
	require.Equal(t, uint64(3), next)

	next, err = ResolveNonce(ctx, state, PrecomputedSignature{DID: alice, Signature: []byte{1}})
	require.NoError(t, err)
	require.Equal(t, uint64(7), next)

	_, err = ResolveNonce(ctx, nonceMap{string(alice.Bytes()): {1, 2}}, Keypair{DID: alice})
	require.Error(t, err)
	_, err = ResolveNonce(ctx, nil, Keypair{DID: alice})
	require.Error(t, err)
}
