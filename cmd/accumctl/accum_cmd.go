package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"accumreg/core/identity"
	"accumreg/core/types"
	"accumreg/native/accumulator"
)

func (e *env) runAccumulator(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(e.stderr, "Usage: accumctl accum create|update|remove|get|history [flags]")
		return 1
	}
	action := args[0]
	fs := flag.NewFlagSet("accum "+action, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	did := fs.String("did", "", "signer DID")
	keystore := fs.String("keystore", "", "controller keystore signing the call")
	idHex := fs.String("id", "", "hex accumulator id")
	idLabel := fs.String("id-label", "", "derive the id from --did and this label (create)")
	accumulated := fs.String("accumulated", "", "hex accumulated value (create/update)")
	keyRef := fs.String("key-ref", "", "owner#counter of the accumulator public key (create)")
	universal := fs.Bool("universal", false, "create a universal accumulator")
	maxSize := fs.Uint64("max-size", 0, "maximum size of a universal accumulator")
	additions := fs.String("add", "", "comma separated hex additions (update); '-' for an empty batch")
	removals := fs.String("remove", "", "comma separated hex removals (update); '-' for an empty batch")
	witness := fs.String("witness", "", "hex witness update info (update)")
	resolve := fs.Bool("resolve", false, "attach public key and params (get)")
	blocks := fs.String("blocks", "", "comma separated block heights (history)")
	indexPath := fs.String("index", "", "event index database used to find update blocks when --blocks is empty (history)")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	remote, err := e.adapter()
	if err != nil {
		return e.fail(err)
	}
	store := accumulator.NewStore(remote)
	ctx, cancel := e.context(ctx)
	defer cancel()

	var id accumulator.ID
	if action == "create" && *idHex == "" && *idLabel != "" {
		owner, err := identity.ParseIdentity(*did)
		if err != nil {
			return e.fail(err)
		}
		id, err = accumulator.DeriveID(owner, *idLabel)
		if err != nil {
			return e.fail(err)
		}
	} else if action == "create" && *idHex == "" {
		id, err = accumulator.RandomID()
		if err != nil {
			return e.fail(err)
		}
	} else {
		id, err = accumulator.ParseID(*idHex)
		if err != nil {
			return e.fail(err)
		}
	}

	switch action {
	case "create":
		auth, _, err := e.signer(*did, *keystore)
		if err != nil {
			return e.fail(err)
		}
		value, err := decodeHex("accumulated", *accumulated, true)
		if err != nil {
			return e.fail(err)
		}
		ref, err := parseRef(*keyRef)
		if err != nil {
			return e.fail(err)
		}
		if *universal {
			_, err = store.CreateUniversal(ctx, id, value, ref, *maxSize, auth)
		} else {
			_, err = store.CreatePositive(ctx, id, value, ref, auth)
		}
		if err != nil {
			return e.fail(err)
		}
		return e.print(map[string]string{"id": id.String()})

	case "update", "remove":
		auth, _, err := e.signer(*did, *keystore)
		if err != nil {
			return e.fail(err)
		}
		// Created and nonce come from the current on-ledger state.
		view, err := store.Get(ctx, id, false)
		if err != nil {
			return e.fail(err)
		}
		if view == nil {
			return e.fail(fmt.Errorf("%w: %s", accumulator.ErrAccumulatorNotFound, id))
		}
		if action == "remove" {
			conf, err := store.Remove(ctx, id, view.Created, view.Nonce+1, auth)
			if err != nil {
				return e.fail(err)
			}
			return e.print(conf)
		}
		value, err := decodeHex("accumulated", *accumulated, true)
		if err != nil {
			return e.fail(err)
		}
		var update accumulator.Update
		if update.Additions, err = parseHexList(*additions); err != nil {
			return e.fail(err)
		}
		if update.Removals, err = parseHexList(*removals); err != nil {
			return e.fail(err)
		}
		if update.WitnessUpdateInfo, err = decodeHex("witness", *witness, false); err != nil {
			return e.fail(err)
		}
		conf, err := store.Update(ctx, id, value, update, view.Created, view.Nonce+1, auth)
		if err != nil {
			return e.fail(err)
		}
		return e.print(conf)

	case "get":
		view, err := store.Get(ctx, id, *resolve)
		if err != nil {
			return e.fail(err)
		}
		return e.print(view)

	case "history":
		locators, err := parseHeights(*blocks)
		if err != nil {
			return e.fail(err)
		}
		if len(locators) == 0 && *indexPath != "" {
			ix, err := e.openIndex(ctx, *indexPath, remote)
			if err != nil {
				return e.fail(err)
			}
			defer ix.Close()
			if locators, err = ix.UpdateBlocks(ctx, id); err != nil {
				return e.fail(err)
			}
		}
		records, err := store.History(ctx, id, locators...)
		if err != nil {
			return e.fail(err)
		}
		return e.print(records)

	default:
		fmt.Fprintf(e.stderr, "Unknown accum subcommand: %s\n", action)
		return 1
	}
}

// parseHexList maps "" to an absent list and "-" to an empty one.
func parseHexList(value string) ([][]byte, error) {
	switch strings.TrimSpace(value) {
	case "":
		return nil, nil
	case "-":
		return [][]byte{}, nil
	}
	return accumulator.DecodeHexList(strings.Split(value, ","))
}

func parseHeights(value string) ([]types.BlockLocator, error) {
	if strings.TrimSpace(value) == "" {
		return nil, errors.New("--blocks is required")
	}
	parts := strings.Split(value, ",")
	out := make([]types.BlockLocator, 0, len(parts))
	for _, part := range parts {
		height, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--blocks: %w", err)
		}
		out = append(out, types.AtHeight(height))
	}
	return out, nil
}
