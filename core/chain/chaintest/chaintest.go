// Package chaintest provides an in-memory development chain and funded DID
// controllers for tests.
package chaintest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"accumreg/core/chain"
	"accumreg/core/identity"
	"accumreg/crypto"
	"accumreg/native"
	"accumreg/native/common"
	"accumreg/storage"
)

// Actor is a DID together with one controller key.
type Actor struct {
	DID identity.Identity
	Key *crypto.PrivateKey
}

// Auth returns a keypair authorization for the actor.
func (a Actor) Auth() common.Authorization {
	return common.Keypair{DID: a.DID, Key: a.Key}
}

// NewChain returns a memory-backed chain serving the default modules. Block
// timestamps advance one second per block.
func NewChain(t testing.TB, opts ...chain.Option) *chain.Chain {
	t.Helper()
	now := time.Unix(1700000000, 0)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	all := append([]chain.Option{
		chain.WithModules(native.DefaultModules()...),
		chain.WithClock(clock),
	}, opts...)
	c, err := chain.New(storage.NewMemDB(), all...)
	require.NoError(t, err)
	return c
}

// NewActor creates a DID from seed and registers a fresh controller for it.
func NewActor(t testing.TB, c *chain.Chain, seed byte) Actor {
	t.Helper()
	var did identity.Identity
	for i := range did {
		did[i] = seed
	}
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, c.AddController(did, key.PubKey().Address()))
	return Actor{DID: did, Key: key}
}
