package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"accumreg/core/identity"
	"accumreg/native/accumulator"
	"accumreg/native/params"
)

type registryFlags struct {
	module   string
	did      string
	keystore string
	counter  uint64
}

func (f *registryFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&f.module, "module", params.ModuleOffchainSignatures, "registry module ("+params.ModuleOffchainSignatures+" or "+accumulator.ModuleName+")")
	fs.StringVar(&f.did, "did", "", "owner DID")
	fs.StringVar(&f.keystore, "keystore", "", "controller keystore signing the call")
	fs.Uint64Var(&f.counter, "counter", 0, "entry counter")
}

func (e *env) registry(module string) (*params.Registry, error) {
	switch module {
	case params.ModuleOffchainSignatures, accumulator.ModuleName:
	default:
		return nil, fmt.Errorf("unknown registry module %q", module)
	}
	remote, err := e.adapter()
	if err != nil {
		return nil, err
	}
	return params.NewRegistry(module, remote), nil
}

func parseCurve(name string) (params.CurveType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return params.CurveUnspecified, nil
	case "bls12381", "bls12-381":
		return params.CurveBls12381, nil
	default:
		return params.CurveUnspecified, fmt.Errorf("%w: %q", params.ErrUnsupportedCurve, name)
	}
}

func (e *env) runParams(ctx context.Context, args []string) int {
	return e.runRegistry(ctx, "params", args)
}

func (e *env) runKey(ctx context.Context, args []string) int {
	return e.runRegistry(ctx, "key", args)
}

func (e *env) runRegistry(ctx context.Context, kind string, args []string) int {
	if len(args) == 0 {
		fmt.Fprintf(e.stderr, "Usage: accumctl %s add|get|list|last|remove [flags]\n", kind)
		return 1
	}
	action := args[0]
	fs := flag.NewFlagSet(kind+" "+action, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	var f registryFlags
	f.bind(fs)
	bytesHex := fs.String("bytes", "", "hex encoded bytes (add)")
	curve := fs.String("curve", "", "curve name, default bls12381 (add)")
	label := fs.String("label", "", "hex encoded label (params add)")
	withLabel := fs.Bool("with-label", false, "store a label even when --label is empty (params add)")
	paramsRef := fs.String("params-ref", "", "owner#counter of the params a key uses (key add)")
	resolve := fs.Bool("resolve", false, "attach referenced params (key get/list)")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	registry, err := e.registry(f.module)
	if err != nil {
		return e.fail(err)
	}
	ctx, cancel := e.context(ctx)
	defer cancel()

	switch action {
	case "add":
		auth, owner, err := e.signer(f.did, f.keystore)
		if err != nil {
			return e.fail(err)
		}
		raw, err := decodeHex("bytes", *bytesHex, true)
		if err != nil {
			return e.fail(err)
		}
		curveType, err := parseCurve(*curve)
		if err != nil {
			return e.fail(err)
		}
		if kind == "params" {
			labelBytes, err := decodeHex("label", *label, false)
			if err != nil {
				return e.fail(err)
			}
			if labelBytes == nil && *withLabel {
				labelBytes = []byte{}
			}
			p, err := params.PrepareParams(raw, curveType, labelBytes)
			if err != nil {
				return e.fail(err)
			}
			conf, err := registry.AddParams(ctx, p, owner, auth)
			if err != nil {
				return e.fail(err)
			}
			return e.print(conf)
		}
		var ref interface{}
		if *paramsRef != "" {
			parsed, err := parseRef(*paramsRef)
			if err != nil {
				return e.fail(err)
			}
			ref = parsed
		}
		k, err := params.PreparePublicKey(raw, curveType, ref)
		if err != nil {
			return e.fail(err)
		}
		conf, err := registry.AddPublicKey(ctx, k, owner, auth)
		if err != nil {
			return e.fail(err)
		}
		return e.print(conf)

	case "remove":
		auth, owner, err := e.signer(f.did, f.keystore)
		if err != nil {
			return e.fail(err)
		}
		remove := registry.RemoveParams
		if kind == "key" {
			remove = registry.RemovePublicKey
		}
		conf, err := remove(ctx, owner, f.counter, auth)
		if err != nil {
			return e.fail(err)
		}
		return e.print(conf)
	}

	owner, err := identity.ParseIdentity(f.did)
	if err != nil {
		return e.fail(err)
	}
	var result interface{}
	switch {
	case action == "get" && kind == "params":
		result, err = registry.GetParams(ctx, owner, f.counter)
	case action == "get":
		result, err = registry.GetPublicKey(ctx, owner, f.counter, *resolve)
	case action == "list" && kind == "params":
		result, err = registry.GetAllParamsByOwner(ctx, owner)
	case action == "list":
		result, err = registry.GetAllPublicKeysByOwner(ctx, owner, *resolve)
	case action == "last" && kind == "params":
		result, err = registry.GetLastParamsWritten(ctx, owner)
	case action == "last":
		result, err = registry.GetLastPublicKeyWritten(ctx, owner)
	default:
		fmt.Fprintf(e.stderr, "Unknown %s subcommand: %s\n", kind, action)
		return 1
	}
	if err != nil {
		return e.fail(err)
	}
	return e.print(result)
}
