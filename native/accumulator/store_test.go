package accumulator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"accumreg/core/chain"
	"accumreg/core/chain/chaintest"
	"accumreg/core/identity"
	"accumreg/core/types"
	"accumreg/ledger"
	"accumreg/native/accumulator"
	"accumreg/native/common"
	"accumreg/native/params"
)

type fixture struct {
	chain *chain.Chain
	store *accumulator.Store
	alice chaintest.Actor
	bob   chaintest.Actor
	key   identity.Reference
}

// newFixture registers params and a key referencing them for alice in the
// accumulator module.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	c := chaintest.NewChain(t)
	f := &fixture{
		chain: c,
		store: accumulator.NewStore(c),
		alice: chaintest.NewActor(t, c, 0xa1),
		bob:   chaintest.NewActor(t, c, 0xb0),
	}
	p, err := params.PrepareParams([]byte("params"), params.CurveBls12381, []byte("vb"))
	require.NoError(t, err)
	_, err = f.store.AddParams(ctx, p, f.alice.DID, f.alice.Auth())
	require.NoError(t, err)
	pk, err := params.PreparePublicKey([]byte("pk"), params.CurveBls12381, []interface{}{f.alice.DID, 1})
	require.NoError(t, err)
	_, err = f.store.AddPublicKey(ctx, pk, f.alice.DID, f.alice.Auth())
	require.NoError(t, err)
	f.key = identity.Reference{Owner: f.alice.DID, Counter: 1}
	return f
}

func testID(b byte) accumulator.ID {
	var id accumulator.ID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestCreatePositiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(1)

	conf, err := f.store.CreatePositive(ctx, id, []byte("acc0"), []interface{}{f.alice.DID.String(), 1}, f.alice.Auth())
	require.NoError(t, err)

	view, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)
	require.NotNil(t, view)
	require.Equal(t, accumulator.KindPositive, view.Kind)
	require.Equal(t, []byte("acc0"), view.Accumulated)
	require.Equal(t, f.key, view.KeyRef)
	require.Zero(t, view.Nonce)
	require.Equal(t, view.Created, view.LastModified)
	require.Equal(t, conf.BlockHeight, view.Created)
	require.Nil(t, view.MaxSize)
	require.Nil(t, view.PublicKey)
}

func TestCreateUniversalCarriesMaxSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(2)

	_, err := f.store.CreateUniversal(ctx, id, []byte("acc0"), f.key, 1024, f.alice.Auth())
	require.NoError(t, err)
	view, err := f.store.Get(ctx, id, true)
	require.NoError(t, err)
	require.Equal(t, accumulator.KindUniversal, view.Kind)
	require.NotNil(t, view.MaxSize)
	require.Equal(t, uint64(1024), *view.MaxSize)
	require.NotNil(t, view.PublicKey)
	require.Equal(t, []byte("pk"), view.PublicKey.Bytes)
	require.NotNil(t, view.PublicKey.Params)
	require.Equal(t, []byte("params"), view.PublicKey.Params.Bytes)
}

func TestDuplicateIDRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(3)

	_, err := f.store.CreatePositive(ctx, id, []byte("a"), f.key, f.alice.Auth())
	require.NoError(t, err)
	_, err = f.store.CreatePositive(ctx, id, []byte("b"), f.key, f.alice.Auth())
	require.True(t, errors.Is(err, ledger.ErrRejected))
	require.False(t, ledger.IsRetryable(err))
}

func TestCreateRequiresKeyOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.CreatePositive(ctx, testID(4), []byte("a"), f.key, f.bob.Auth())
	require.True(t, errors.Is(err, ledger.ErrRejected))

	missing := identity.Reference{Owner: f.alice.DID, Counter: 5}
	_, err = f.store.CreatePositive(ctx, testID(4), []byte("a"), missing, f.alice.Auth())
	require.True(t, errors.Is(err, ledger.ErrRejected))
}

func TestNonceMonotonicity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(5)

	_, err := f.store.CreatePositive(ctx, id, []byte("acc0"), f.key, f.alice.Auth())
	require.NoError(t, err)
	view, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)

	_, err = f.store.Update(ctx, id, []byte("acc1"), accumulator.Update{}, view.Created, 0, f.alice.Auth())
	require.True(t, errors.Is(err, ledger.ErrRejected))

	conf, err := f.store.Update(ctx, id, []byte("acc1"), accumulator.Update{}, view.Created, 1, f.alice.Auth())
	require.NoError(t, err)

	view, err = f.store.Get(ctx, id, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), view.Nonce)
	require.Equal(t, []byte("acc1"), view.Accumulated)
	require.Equal(t, conf.BlockHeight, view.LastModified)
	require.Less(t, view.Created, view.LastModified)

	// Replaying the same nonce fails until the caller refetches.
	_, err = f.store.Update(ctx, id, []byte("acc2"), accumulator.Update{}, view.Created, 1, f.alice.Auth())
	require.True(t, errors.Is(err, ledger.ErrRejected))
	_, err = f.store.Update(ctx, id, []byte("acc2"), accumulator.Update{}, view.Created, 2, f.alice.Auth())
	require.NoError(t, err)
}

func TestCreatedImmutability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(6)

	_, err := f.store.CreatePositive(ctx, id, []byte("acc0"), f.key, f.alice.Auth())
	require.NoError(t, err)
	view, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)

	_, err = f.store.Update(ctx, id, []byte("acc1"), accumulator.Update{}, view.Created+1, 1, f.alice.Auth())
	require.True(t, errors.Is(err, ledger.ErrRejected))
	_, err = f.store.Remove(ctx, id, view.Created-1, 1, f.alice.Auth())
	require.True(t, errors.Is(err, ledger.ErrRejected))

	still, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)
	require.Zero(t, still.Nonce)
}

func TestOnlyKeyOwnerMayUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(7)

	_, err := f.store.CreatePositive(ctx, id, []byte("acc0"), f.key, f.alice.Auth())
	require.NoError(t, err)
	view, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)
	_, err = f.store.Update(ctx, id, []byte("x"), accumulator.Update{}, view.Created, 1, f.bob.Auth())
	require.True(t, errors.Is(err, ledger.ErrRejected))
}

func TestUpdateLogFidelity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(8)
	other := testID(9)

	_, err := f.store.CreatePositive(ctx, id, []byte("acc0"), f.key, f.alice.Auth())
	require.NoError(t, err)
	_, err = f.store.CreatePositive(ctx, other, []byte("other"), f.key, f.alice.Auth())
	require.NoError(t, err)
	view, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)

	update := accumulator.Update{
		Additions:         [][]byte{[]byte("m1"), []byte("m2")},
		WitnessUpdateInfo: []byte("w"),
	}
	conf, err := f.store.Update(ctx, id, []byte("acc1"), update, view.Created, 1, f.alice.Auth())
	require.NoError(t, err)

	records, err := f.store.GetUpdatesFromBlock(ctx, id, types.AtHeight(conf.BlockHeight))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, id, records[0].ID)
	require.Equal(t, []byte("acc1"), records[0].NewAccumulated)
	require.Equal(t, [][]byte{[]byte("m1"), []byte("m2")}, records[0].Additions)
	require.Nil(t, records[0].Removals)
	require.Equal(t, []byte("w"), records[0].WitnessUpdateInfo)

	// An empty removals batch stays distinct from an absent one.
	conf2, err := f.store.Update(ctx, id, []byte("acc2"), accumulator.Update{Removals: [][]byte{}}, view.Created, 2, f.alice.Auth())
	require.NoError(t, err)
	records, err = f.store.GetUpdatesFromBlock(ctx, id, types.AtHash(conf2.BlockHash))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Removals)
	require.Empty(t, records[0].Removals)
	require.Nil(t, records[0].Additions)
	require.Nil(t, records[0].WitnessUpdateInfo)

	none, err := f.store.GetUpdatesFromBlock(ctx, other, types.AtHeight(conf.BlockHeight))
	require.NoError(t, err)
	require.Empty(t, none)

	history, err := f.store.History(ctx, id, types.AtHeight(conf.BlockHeight), types.AtHeight(conf2.BlockHeight))
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, []byte("acc2"), history[1].NewAccumulated)

	_, err = f.store.History(ctx, id, types.AtHeight(conf2.BlockHeight+10))
	require.True(t, errors.Is(err, ledger.ErrBlockNotFound))
}

func TestIDReuseAfterRemoval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(10)

	_, err := f.store.CreatePositive(ctx, id, []byte("acc0"), f.key, f.alice.Auth())
	require.NoError(t, err)
	view, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)

	_, err = f.store.Remove(ctx, id, view.Created, 1, f.alice.Auth())
	require.NoError(t, err)
	gone, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)
	require.Nil(t, gone)

	_, err = f.store.CreateUniversal(ctx, id, []byte("fresh"), f.key, 8, f.alice.Auth())
	require.NoError(t, err)
	fresh, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)
	require.Equal(t, accumulator.KindUniversal, fresh.Kind)
	require.Zero(t, fresh.Nonce)
	require.Greater(t, fresh.Created, view.Created)
}

func TestReplayedCreateAfterRemovalIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(16)

	create, err := f.store.BuildCreatePositive(ctx, id, []byte("acc-original"), f.key, f.alice.Auth())
	require.NoError(t, err)
	_, err = f.chain.Submit(ctx, create)
	require.NoError(t, err)
	view, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)
	_, err = f.store.Update(ctx, id, []byte("acc1"), accumulator.Update{Removals: [][]byte{[]byte("m")}}, view.Created, 1, f.alice.Auth())
	require.NoError(t, err)
	_, err = f.store.Remove(ctx, id, view.Created, 2, f.alice.Auth())
	require.NoError(t, err)
	before, _ := f.chain.Head()

	_, err = f.chain.Submit(ctx, create.Copy())
	require.True(t, errors.Is(err, ledger.ErrRejected), "got %v", err)
	require.Contains(t, err.Error(), common.ErrNonceMismatch.Error())

	after, _ := f.chain.Head()
	require.Equal(t, before, after, "a replayed call seals nothing")
	gone, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestDanglingKeyReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(11)

	_, err := f.store.CreatePositive(ctx, id, []byte("acc0"), f.key, f.alice.Auth())
	require.NoError(t, err)
	_, err = f.store.RemovePublicKey(ctx, f.alice.DID, 1, f.alice.Auth())
	require.NoError(t, err)

	_, err = f.store.Get(ctx, id, true)
	require.True(t, errors.Is(err, accumulator.ErrDanglingKeyReference))

	view, err := f.store.Get(ctx, id, false)
	require.NoError(t, err)
	require.Equal(t, f.key, view.KeyRef)
}

func TestKeyWithoutParamsFailsResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pk, err := params.PreparePublicKey([]byte("bare"), params.CurveBls12381, nil)
	require.NoError(t, err)
	_, err = f.store.AddPublicKey(ctx, pk, f.alice.DID, f.alice.Auth())
	require.NoError(t, err)
	bare := identity.Reference{Owner: f.alice.DID, Counter: 2}

	id := testID(12)
	_, err = f.store.CreatePositive(ctx, id, []byte("acc0"), bare, f.alice.Auth())
	require.NoError(t, err)
	_, err = f.store.Get(ctx, id, true)
	require.True(t, errors.Is(err, params.ErrNoParamsReference))
}

func TestUpdateEventsFromBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(13)

	created, err := f.store.CreatePositive(ctx, id, []byte("acc0"), f.key, f.alice.Auth())
	require.NoError(t, err)
	updated, err := f.store.Update(ctx, id, []byte{0xca, 0xfe}, accumulator.Update{}, created.BlockHeight, 1, f.alice.Auth())
	require.NoError(t, err)

	events, err := f.store.Scanner().UpdateEventsFromBlock(ctx, types.AtHeight(updated.BlockHeight))
	require.NoError(t, err)
	require.Equal(t, []accumulator.UpdateEvent{{ID: id, NewAccumulated: []byte{0xca, 0xfe}}}, events)

	events, err = f.store.Scanner().UpdateEventsFromBlock(ctx, types.AtHeight(created.BlockHeight))
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestLocalValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := testID(14)

	_, err := f.store.BuildCreatePositive(ctx, id, nil, f.key, f.alice.Auth())
	require.True(t, errors.Is(err, accumulator.ErrMissingAccumulated))
	_, err = f.store.BuildCreatePositive(ctx, accumulator.ID{}, []byte("a"), f.key, f.alice.Auth())
	require.True(t, errors.Is(err, accumulator.ErrInvalidID))
	_, err = f.store.BuildCreatePositive(ctx, id, []byte("a"), []interface{}{f.alice.DID, 0}, f.alice.Auth())
	require.True(t, errors.Is(err, identity.ErrInvalidReference))
	_, err = f.store.BuildCreatePositive(ctx, id, []byte("a"), f.key, nil)
	require.ErrorIs(t, err, common.ErrMissingAuthorization)

	bad := accumulator.Update{Additions: [][]byte{[]byte("ok"), {}}}
	_, err = f.store.BuildUpdate(ctx, id, []byte("a"), bad, 1, 1, f.alice.Auth())
	require.True(t, errors.Is(err, accumulator.ErrInvalidByteArrayElement))
	require.False(t, ledger.IsRetryable(err))

	_, err = f.store.BuildUpdate(ctx, id, []byte("a"), accumulator.Update{WitnessUpdateInfo: []byte{}}, 1, 1, f.alice.Auth())
	require.True(t, errors.Is(err, accumulator.ErrInvalidByteArrayElement))

	_, err = f.store.BuildRemove(ctx, accumulator.ID{}, 1, 1, f.alice.Auth())
	require.True(t, errors.Is(err, accumulator.ErrInvalidID))
}
