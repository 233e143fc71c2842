package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"accumreg/core/chain"
	"accumreg/core/chain/chaintest"
	"accumreg/core/identity"
	"accumreg/core/types"
	"accumreg/ledger"
	"accumreg/native/accumulator"
	"accumreg/native/params"
	"accumreg/rpc"
	"accumreg/rpc/client"
)

const token = "client-test-token"

func newRemote(t *testing.T, opts ...client.Option) (*client.Client, *chain.Chain) {
	t.Helper()
	c := chaintest.NewChain(t)
	srv := httptest.NewServer(rpc.NewServer(c, rpc.Config{AuthToken: token}, nil).Handler())
	t.Cleanup(srv.Close)
	remote, err := client.New(srv.URL, append([]client.Option{client.WithAuthToken(token)}, opts...)...)
	require.NoError(t, err)
	return remote, c
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := client.New("  ")
	require.Error(t, err)
}

func TestRegistryOverRPC(t *testing.T) {
	ctx := context.Background()
	remote, c := newRemote(t)
	alice := chaintest.NewActor(t, c, 0xa1)
	registry := params.NewRegistry(params.ModuleOffchainSignatures, remote)

	_, err := registry.AddParams(ctx, &params.Params{Bytes: []byte{1, 2}, Label: []byte{}}, alice.DID, alice.Auth())
	require.NoError(t, err)

	got, err := registry.GetParams(ctx, alice.DID, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, got.Bytes)
	require.NotNil(t, got.Label, "empty labels survive the wire")

	missing, err := registry.GetParams(ctx, alice.DID, 2)
	require.NoError(t, err)
	require.Nil(t, missing)

	height, hash, err := remote.Head(ctx)
	require.NoError(t, err)
	localHeight, localHash := c.Head()
	require.Equal(t, localHeight, height)
	require.Equal(t, localHash, hash)
}

func TestAccumulatorLifecycleOverRPC(t *testing.T) {
	ctx := context.Background()
	remote, c := newRemote(t)
	alice := chaintest.NewActor(t, c, 0xa1)
	store := accumulator.NewStore(remote)

	p, err := params.PrepareParams([]byte("params"), params.CurveBls12381, nil)
	require.NoError(t, err)
	_, err = store.AddParams(ctx, p, alice.DID, alice.Auth())
	require.NoError(t, err)
	pk, err := params.PreparePublicKey([]byte("pk"), params.CurveBls12381, identity.Reference{Owner: alice.DID, Counter: 1})
	require.NoError(t, err)
	_, err = store.AddPublicKey(ctx, pk, alice.DID, alice.Auth())
	require.NoError(t, err)

	id, err := accumulator.DeriveID(alice.DID, "remote")
	require.NoError(t, err)
	_, err = store.CreatePositive(ctx, id, []byte("acc0"), identity.Reference{Owner: alice.DID, Counter: 1}, alice.Auth())
	require.NoError(t, err)

	view, err := store.Get(ctx, id, true)
	require.NoError(t, err)
	require.Equal(t, []byte("params"), view.PublicKey.Params.Bytes)

	conf, err := store.Update(ctx, id, []byte("acc1"), accumulator.Update{Removals: [][]byte{}}, view.Created, 1, alice.Auth())
	require.NoError(t, err)
	records, err := store.GetUpdatesFromBlock(ctx, id, types.AtHash(conf.BlockHash))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Removals)
	require.Nil(t, records[0].Additions)

	// Replaying the same nonce is a rejection with the module's reason.
	_, err = store.Update(ctx, id, []byte("acc2"), accumulator.Update{}, view.Created, 1, alice.Auth())
	var rejection *ledger.RejectionError
	require.True(t, errors.As(err, &rejection), "got %v", err)
	require.Equal(t, accumulator.ModuleName, rejection.Module)
	require.False(t, ledger.IsRetryable(err))

	_, err = store.Remove(ctx, id, view.Created, 2, alice.Auth())
	require.NoError(t, err)
	gone, err := store.Get(ctx, id, false)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestErrorMapping(t *testing.T) {
	ctx := context.Background()
	remote, _ := newRemote(t)

	_, err := remote.ReadBlockCalls(ctx, types.AtHeight(50))
	require.True(t, errors.Is(err, ledger.ErrBlockNotFound), "got %v", err)

	_, err = remote.ReadBlockEvents(ctx, types.BlockLocator{ByHash: true})
	require.True(t, errors.Is(err, types.ErrInvalidLocator))
	require.False(t, ledger.IsRetryable(err))

	calls, err := remote.ReadBlockCalls(ctx, types.AtHeight(0))
	require.NoError(t, err)
	require.NotNil(t, calls)
	require.Empty(t, calls)
}

func TestSubmitWithoutTokenFailsLocally(t *testing.T) {
	ctx := context.Background()
	remote, c := newRemote(t, client.WithAuthToken(""))
	alice := chaintest.NewActor(t, c, 0xa1)
	registry := params.NewRegistry(params.ModuleOffchainSignatures, remote)

	_, err := registry.AddParams(ctx, &params.Params{Bytes: []byte{1}}, alice.DID, alice.Auth())
	require.Error(t, err)
	require.False(t, ledger.IsRetryable(err))
	height, _ := c.Head()
	require.Zero(t, height)
}

func TestWrongTokenIsCallError(t *testing.T) {
	ctx := context.Background()
	remote, c := newRemote(t, client.WithAuthToken("nope"))
	alice := chaintest.NewActor(t, c, 0xa1)
	registry := params.NewRegistry(params.ModuleOffchainSignatures, remote)

	_, err := registry.AddParams(ctx, &params.Params{Bytes: []byte{1}}, alice.DID, alice.Auth())
	var callErr *client.CallError
	require.True(t, errors.As(err, &callErr))
	require.Equal(t, rpc.CodeUnauthorized, callErr.Code)
}

func TestClientRateLimitHonoursContext(t *testing.T) {
	remote, _ := newRemote(t, client.WithRateLimit(0.001, 1))
	ctx := context.Background()
	_, _, err := remote.Head(ctx)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = remote.Head(cancelled)
	require.ErrorIs(t, err, context.Canceled)
}
