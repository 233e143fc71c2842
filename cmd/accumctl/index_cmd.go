package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"accumreg/indexer"
	"accumreg/ledger"
)

func (e *env) runIndex(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(e.stderr, "Usage: accumctl index sync|events|export -db <path> [flags]")
		return 1
	}
	action := args[0]
	fs := flag.NewFlagSet("index "+action, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	dbPath := fs.String("db", "", "SQLite index database")
	module := fs.String("module", "", "only events of this module (events/export)")
	eventType := fs.String("type", "", "only events of this type (events/export)")
	subject := fs.String("subject", "", "only events about this accumulator id or DID (events/export)")
	from := fs.Uint64("from", 0, "lowest block height (events/export)")
	to := fs.Uint64("to", 0, "highest block height (events/export)")
	limit := fs.Int("limit", 0, "maximum number of events (events/export)")
	out := fs.String("out", "", "parquet file to write (export)")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if strings.TrimSpace(*dbPath) == "" {
		fmt.Fprintln(e.stderr, "Error: --db is required")
		return 1
	}
	filter := indexer.Filter{
		Module:     *module,
		Type:       *eventType,
		Subject:    *subject,
		FromHeight: *from,
		ToHeight:   *to,
		Limit:      *limit,
	}

	remote, err := e.adapter()
	if err != nil {
		return e.fail(err)
	}
	ctx, cancel := e.context(ctx)
	defer cancel()

	switch action {
	case "sync":
		ix, err := e.openIndex(ctx, *dbPath, remote)
		if err != nil {
			return e.fail(err)
		}
		defer ix.Close()
		height, _, err := ix.Cursor(ctx)
		if err != nil {
			return e.fail(err)
		}
		return e.print(map[string]uint64{"height": height})

	case "events":
		ix, err := e.openIndex(ctx, *dbPath, remote)
		if err != nil {
			return e.fail(err)
		}
		defer ix.Close()
		events, err := ix.Events(ctx, filter)
		if err != nil {
			return e.fail(err)
		}
		type row struct {
			Height     uint64            `json:"height"`
			Type       string            `json:"type"`
			Subject    string            `json:"subject,omitempty"`
			Attributes map[string]string `json:"attributes"`
		}
		rows := make([]row, 0, len(events))
		for i := range events {
			attrs, err := events[i].Attrs()
			if err != nil {
				return e.fail(err)
			}
			rows = append(rows, row{Height: events[i].Height, Type: events[i].Type, Subject: events[i].Subject, Attributes: attrs})
		}
		return e.print(rows)

	case "export":
		if strings.TrimSpace(*out) == "" {
			fmt.Fprintln(e.stderr, "Error: --out is required")
			return 1
		}
		ix, err := e.openIndex(ctx, *dbPath, remote)
		if err != nil {
			return e.fail(err)
		}
		defer ix.Close()
		n, err := ix.ExportParquet(ctx, *out, filter)
		if err != nil {
			return e.fail(err)
		}
		return e.print(map[string]interface{}{"file": *out, "rows": n})

	default:
		fmt.Fprintf(e.stderr, "Unknown index subcommand: %s\n", action)
		return 1
	}
}

// openIndex opens the index at path and brings it up to the ledger head.
func (e *env) openIndex(ctx context.Context, path string, source ledger.Adapter) (*indexer.Indexer, error) {
	db, err := indexer.Open(path)
	if err != nil {
		return nil, err
	}
	ix, err := indexer.New(db, source)
	if err != nil {
		return nil, err
	}
	for {
		n, err := ix.Sync(ctx)
		if err != nil {
			ix.Close()
			return nil, err
		}
		if n == 0 {
			return ix, nil
		}
	}
}
