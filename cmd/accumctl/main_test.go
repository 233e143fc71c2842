package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"accumreg/config"
	"accumreg/core/chain/chaintest"
	"accumreg/core/identity"
	"accumreg/crypto"
	"accumreg/native/accumulator"
	"accumreg/rpc"
	"accumreg/rpc/client"
)

const cliToken = "cli-token"

type harness struct {
	env    *env
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T) (*harness, func(did identity.Identity, keystore string)) {
	t.Helper()
	c := chaintest.NewChain(t)
	srv := httptest.NewServer(rpc.NewServer(c, rpc.Config{AuthToken: cliToken}, nil).Handler())
	t.Cleanup(srv.Close)

	h := &harness{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	cfg := config.Default().Client
	cfg.Endpoint = srv.URL
	h.env = &env{
		cfg:    cfg,
		stdout: h.stdout,
		stderr: h.stderr,
		pass:   func() (string, error) { return "cli-pass", nil },
		dial: func(cfg config.Client) (*client.Client, error) {
			return client.New(cfg.Endpoint, client.WithAuthToken(cliToken))
		},
	}
	grant := func(did identity.Identity, keystore string) {
		key, err := crypto.LoadFromKeystore(keystore, "cli-pass")
		require.NoError(t, err)
		require.NoError(t, c.AddController(did, key.PubKey().Address()))
	}
	return h, grant
}

func (h *harness) run(t *testing.T, args ...string) (int, map[string]interface{}) {
	t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()
	code := h.env.dispatch(context.Background(), args)
	var out map[string]interface{}
	if code == 0 && strings.HasPrefix(strings.TrimSpace(h.stdout.String()), "{") {
		require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out), h.stdout.String())
	}
	return code, out
}

func TestAccumulatorWorkflow(t *testing.T) {
	h, grant := newHarness(t)
	keystore := filepath.Join(t.TempDir(), "alice.keystore")
	did := identity.MustParse("did:acc:a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1")

	code, out := h.run(t, "keygen", "-out", keystore, "-light-kdf")
	require.Equal(t, 0, code, h.stderr.String())
	require.NotEmpty(t, out["address"])
	code, _ = h.run(t, "keygen", "-out", keystore)
	require.Equal(t, 1, code, "existing keystores are never overwritten")
	grant(did, keystore)

	signer := []string{"-module", accumulator.ModuleName, "-did", did.String(), "-keystore", keystore}
	code, _ = h.run(t, append([]string{"params", "add", "-bytes", "0x0102", "-with-label"}, signer...)...)
	require.Equal(t, 0, code, h.stderr.String())
	code, _ = h.run(t, append([]string{"key", "add", "-bytes", "0xaa", "-params-ref", did.String() + "#1"}, signer...)...)
	require.Equal(t, 0, code, h.stderr.String())

	code, out = h.run(t, "key", "get", "-module", accumulator.ModuleName, "-did", did.String(), "-counter", "1", "-resolve")
	require.Equal(t, 0, code, h.stderr.String())
	require.NotNil(t, out["params"])

	code, out = h.run(t, "accum", "create", "-did", did.String(), "-keystore", keystore,
		"-id-label", "cli", "-accumulated", "0x01", "-key-ref", did.String()+"#1")
	require.Equal(t, 0, code, h.stderr.String())
	wantID, err := accumulator.DeriveID(did, "cli")
	require.NoError(t, err)
	require.Equal(t, wantID.String(), out["id"])

	code, _ = h.run(t, "accum", "create", "-did", did.String(), "-keystore", keystore,
		"-id-label", "cli", "-accumulated", "0x01", "-key-ref", did.String()+"#1")
	require.Equal(t, 3, code, "duplicate ids are ledger rejections")
	require.Contains(t, h.stderr.String(), "Rejected:")

	code, out = h.run(t, "accum", "update", "-did", did.String(), "-keystore", keystore,
		"-id", wantID.String(), "-accumulated", "0x02", "-add", "0xaa,0xbb", "-remove", "-")
	require.Equal(t, 0, code, h.stderr.String())
	updateHeight := out["blockHeight"].(float64)

	code, out = h.run(t, "accum", "get", "-id", wantID.String())
	require.Equal(t, 0, code, h.stderr.String())
	require.Equal(t, float64(1), out["nonce"])

	h.stdout.Reset()
	require.Equal(t, 0, h.env.dispatch(context.Background(), []string{"accum", "history", "-id", wantID.String(), "-blocks", strconv.FormatUint(uint64(updateHeight), 10)}), h.stderr.String())
	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, []interface{}{}, records[0]["removals"])

	indexDB := filepath.Join(t.TempDir(), "index.db")
	h.stdout.Reset()
	require.Equal(t, 0, h.env.dispatch(context.Background(), []string{"accum", "history", "-id", wantID.String(), "-index", indexDB}), h.stderr.String())
	records = nil
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &records))
	require.Len(t, records, 1, "the index finds the update block")

	code, out = h.run(t, "index", "sync", "-db", indexDB)
	require.Equal(t, 0, code, h.stderr.String())
	require.Equal(t, updateHeight, out["height"])

	h.stdout.Reset()
	require.Equal(t, 0, h.env.dispatch(context.Background(), []string{"index", "events", "-db", indexDB, "-subject", wantID.String()}), h.stderr.String())
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &events))
	require.Len(t, events, 2)
	require.Equal(t, accumulator.EventTypeAdded, events[0]["type"])

	parquetFile := filepath.Join(t.TempDir(), "events.parquet")
	code, out = h.run(t, "index", "export", "-db", indexDB, "-out", parquetFile)
	require.Equal(t, 0, code, h.stderr.String())
	require.Greater(t, out["rows"].(float64), float64(0))
	code, _ = h.run(t, "index", "export", "-db", indexDB)
	require.Equal(t, 1, code)

	code, _ = h.run(t, "accum", "remove", "-did", did.String(), "-keystore", keystore, "-id", wantID.String())
	require.Equal(t, 0, code, h.stderr.String())
	h.stdout.Reset()
	require.Equal(t, 0, h.env.dispatch(context.Background(), []string{"accum", "get", "-id", wantID.String()}))
	require.Equal(t, "null", strings.TrimSpace(h.stdout.String()))
}

func TestUsageErrors(t *testing.T) {
	h, _ := newHarness(t)
	code, _ := h.run(t)
	require.Equal(t, 1, code)
	require.Contains(t, h.stderr.String(), "Usage:")

	code, _ = h.run(t, "frobnicate")
	require.Equal(t, 1, code)

	code, _ = h.run(t, "accum", "get", "-id", "0x1234")
	require.Equal(t, 1, code)
	require.Contains(t, h.stderr.String(), accumulator.ErrInvalidID.Error())

	code, _ = h.run(t, "params", "add", "-did", "did:acc:00", "-bytes", "01")
	require.Equal(t, 1, code)

	code, out := h.run(t, "head")
	require.Equal(t, 0, code, h.stderr.String())
	require.Equal(t, float64(0), out["height"])
}
