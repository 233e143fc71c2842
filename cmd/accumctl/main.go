package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"accumreg/cmd/internal/passphrase"
	"accumreg/config"
	"accumreg/core/identity"
	"accumreg/crypto"
	"accumreg/ledger"
	"accumreg/native/common"
	"accumreg/rpc/client"
)

const (
	endpointEnv   = "ACCUMCTL_RPC"
	tokenEnv      = "ACCUMCTL_TOKEN"
	passphraseEnv = "ACCUMCTL_PASS"
)

// env carries what every subcommand needs.
type env struct {
	cfg    config.Client
	stdout io.Writer
	stderr io.Writer
	pass   func() (string, error)
	dial   func(config.Client) (*client.Client, error)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("accumctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "Optional config file providing the [client] section")
	endpoint := fs.String("rpc", "", "JSON-RPC endpoint (overrides config and "+endpointEnv+")")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg := config.Default().Client
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded.Client
	}
	if v := strings.TrimSpace(os.Getenv(endpointEnv)); v != "" {
		cfg.Endpoint = v
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	e := &env{
		cfg:    cfg,
		stdout: stdout,
		stderr: stderr,
		pass:   passphrase.NewSource(passphraseEnv, "controller").Get,
		dial:   dial,
	}
	return e.dispatch(ctx, fs.Args())
}

func (e *env) dispatch(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(e.stderr, usage())
		return 1
	}
	rest := args[1:]
	switch args[0] {
	case "keygen":
		return e.runKeygen(rest)
	case "head":
		return e.runHead(ctx, rest)
	case "params":
		return e.runParams(ctx, rest)
	case "key":
		return e.runKey(ctx, rest)
	case "accum":
		return e.runAccumulator(ctx, rest)
	case "index":
		return e.runIndex(ctx, rest)
	default:
		fmt.Fprintf(e.stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(e.stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: accumctl [-config file] [-rpc url] <command> [flags]",
		"",
		"Commands:",
		"  keygen -out <keystore> [-light-kdf]    create a controller keystore",
		"  head                                   print the latest block",
		"  params add|get|list|last|remove        manage parameter entries",
		"  key add|get|list|last|remove           manage public keys",
		"  accum create|update|remove|get|history manage accumulators",
		"  index sync|events|export               maintain a local event index",
	}, "\n")
}

func dial(cfg config.Client) (*client.Client, error) {
	token := config.Secret(cfg.AuthTokenEnv)
	if token == "" {
		token = config.Secret(tokenEnv)
	}
	opts := []client.Option{
		client.WithAuthToken(token),
		client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, client.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst))
	}
	return client.New(cfg.Endpoint, opts...)
}

func (e *env) adapter() (*client.Client, error) {
	return e.dial(e.cfg)
}

func (e *env) context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.Timeout())
}

func (e *env) signer(did, keystore string) (common.Authorization, identity.Identity, error) {
	id, err := identity.ParseIdentity(did)
	if err != nil {
		return nil, identity.Identity{}, err
	}
	if strings.TrimSpace(keystore) == "" {
		return nil, identity.Identity{}, errors.New("--keystore is required")
	}
	pass, err := e.pass()
	if err != nil {
		return nil, identity.Identity{}, err
	}
	key, err := crypto.LoadFromKeystore(keystore, pass)
	if err != nil {
		return nil, identity.Identity{}, err
	}
	return common.Keypair{DID: id, Key: key}, id, nil
}

func (e *env) runKeygen(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	out := fs.String("out", "", "path of the keystore to create")
	light := fs.Bool("light-kdf", false, "use light scrypt parameters (development keys only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(e.stderr, "Error: --out is required")
		return 1
	}
	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(e.stderr, "Error: %s already exists\n", *out)
		return 1
	}
	pass, err := e.pass()
	if err != nil {
		return e.fail(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return e.fail(err)
	}
	var opts []crypto.KeystoreOption
	if *light {
		opts = append(opts, crypto.WithLightScrypt())
	}
	if err := crypto.SaveToKeystore(*out, key, pass, opts...); err != nil {
		return e.fail(err)
	}
	return e.print(map[string]string{"keystore": *out, "address": key.PubKey().Address().String()})
}

func (e *env) runHead(ctx context.Context, args []string) int {
	if len(args) > 0 {
		fmt.Fprintln(e.stderr, "Error: head takes no arguments")
		return 1
	}
	remote, err := e.adapter()
	if err != nil {
		return e.fail(err)
	}
	ctx, cancel := e.context(ctx)
	defer cancel()
	height, hash, err := remote.Head(ctx)
	if err != nil {
		return e.fail(err)
	}
	return e.print(map[string]interface{}{"height": height, "hash": "0x" + hex.EncodeToString(hash)})
}

func (e *env) print(v interface{}) int {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return e.fail(err)
	}
	fmt.Fprintln(e.stdout, string(out))
	return 0
}

func (e *env) fail(err error) int {
	var rejection *ledger.RejectionError
	if errors.As(err, &rejection) {
		fmt.Fprintf(e.stderr, "Rejected: %s\n", rejection.Reason)
		return 3
	}
	fmt.Fprintf(e.stderr, "Error: %v\n", err)
	return 1
}

func decodeHex(flagName, value string, required bool) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		if required {
			return nil, fmt.Errorf("--%s is required", flagName)
		}
		return nil, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flagName, err)
	}
	return raw, nil
}

// parseRef accepts owner#counter.
func parseRef(value string) (identity.Reference, error) {
	owner, counter, ok := strings.Cut(strings.TrimSpace(value), "#")
	if !ok {
		return identity.Reference{}, fmt.Errorf("%w: expected owner#counter", identity.ErrInvalidReference)
	}
	return identity.ParseRef([]string{owner, counter})
}
