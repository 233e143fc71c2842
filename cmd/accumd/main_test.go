package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"accumreg/config"
	"accumreg/core/identity"
	"accumreg/crypto"
	"accumreg/indexer"
	"accumreg/native/common"
	"accumreg/native/params"
	"accumreg/rpc/client"
)

const devDID = "did:acc:d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNodeServesDevController(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	t.Setenv("ACCUMD_TEST_TOKEN", "node-token")

	cfg := config.Default()
	cfg.Node.DataDir = filepath.Join(dir, "data")
	cfg.Node.AuthTokenEnv = "ACCUMD_TEST_TOKEN"
	cfg.Node.DevKeystorePath = filepath.Join(dir, "dev.keystore")
	cfg.Node.DevDID = devDID
	cfg.Node.Index.Path = filepath.Join(dir, "index.db")
	require.NoError(t, cfg.Validate())

	n, err := newNode(cfg, quietLogger(), func() (string, error) { return "dev-pass", nil })
	require.NoError(t, err)
	defer n.Close()

	key, err := crypto.LoadFromKeystore(cfg.Node.DevKeystorePath, "dev-pass")
	require.NoError(t, err)
	did := identity.MustParse(devDID)
	controllers, err := n.chain.Controllers(did)
	require.NoError(t, err)
	require.Len(t, controllers, 1)
	require.Equal(t, key.PubKey().Address().Bytes(), controllers[0].Bytes())

	srv := httptest.NewServer(n.server.Handler())
	defer srv.Close()
	remote, err := client.New(srv.URL, client.WithAuthToken("node-token"))
	require.NoError(t, err)

	registry := params.NewRegistry(params.ModuleOffchainSignatures, remote)
	_, err = registry.AddParams(ctx, &params.Params{Bytes: []byte{1}}, did, common.Keypair{DID: did, Key: key})
	require.NoError(t, err)
	height, _, err := remote.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)

	require.NotNil(t, n.index)
	indexed, err := n.index.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, indexed)
	added, err := n.index.Events(ctx, indexer.Filter{Subject: did.String()})
	require.NoError(t, err)
	require.Len(t, added, 1)
	require.Equal(t, "offchainSignatures.paramsAdded", added[0].Type)
}

func TestNodeRejectsBadController(t *testing.T) {
	cfg := config.Default()
	cfg.Node.DataDir = ""
	cfg.Node.Controllers = []config.Controller{{DID: devDID, Address: "acc1notanaddress"}}
	_, err := newNode(cfg, quietLogger(), nil)
	require.Error(t, err)
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	require.Equal(t, 2, run([]string{"-bogus"}, io.Discard))
}
