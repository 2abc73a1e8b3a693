// Command keyindex builds one keyed dimension from a source extract: the
// distinct combinations of 2 to 5 columns, sorted, with a 1-based ID.
//
// Usage:
//
//	keyindex --source SalesFINAL12312016.csv --columns Store,Brand [--out dim_store_brand.csv]
//
// Without --out (or with --out -) the table is written to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"stardim/internal/config"
	"stardim/internal/dimension"
	"stardim/internal/extract"
	"stardim/internal/logger"
	csvparser "stardim/internal/parser/csv"
	"stardim/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("keyindex", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		source  = fs.StringP("source", "s", "", "source CSV path or s3:// URI")
		columns = fs.StringSlice("columns", nil, "comma-separated key columns (2 to 5)")
		out     = fs.StringP("out", "o", "-", "output path or s3:// URI; - for stdout")
		comma   = fs.String("comma", ",", "field delimiter for input and output")
		verbose = fs.BoolP("verbose", "v", false, "enable debug logs")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*source) == "" || len(*columns) == 0 {
		fmt.Fprintln(stderr, "usage: keyindex --source file.csv --columns a,b [--out keys.csv]")
		return 2
	}
	if n := len(*columns); n < dimension.MinKeyColumns || n > dimension.MaxKeyColumns {
		fmt.Fprintf(stderr, "need %d to %d columns, got %d\n", dimension.MinKeyColumns, dimension.MaxKeyColumns, n)
		return 2
	}
	if len([]rune(*comma)) != 1 {
		fmt.Fprintf(stderr, "comma must be a single character, got %q\n", *comma)
		return 2
	}

	log := logger.NewWriter(stderr, *verbose)
	store, err := pipeline.StoreFor(ctx, *source, *out)
	if err != nil {
		fmt.Fprintf(stderr, "datasource: %v\n", err)
		return 1
	}
	opt := csvparser.OptionsFrom(config.Options{"comma": *comma})
	k := &dimension.KeyIndexer{Loader: &extract.Loader{Store: store, Options: opt, Logger: log}}
	t, err := k.Index(ctx, *source, *columns)
	if err != nil {
		fmt.Fprintf(stderr, "index: %v\n", err)
		return 1
	}

	if *out == "-" || *out == "" {
		if err := csvparser.WriteTable(stdout, t, opt.Comma); err != nil {
			fmt.Fprintf(stderr, "write: %v\n", err)
			return 1
		}
		return 0
	}
	w, err := store.Create(ctx, *out)
	if err != nil {
		fmt.Fprintf(stderr, "create: %v\n", err)
		return 1
	}
	if err := csvparser.WriteTable(w, t, opt.Comma); err != nil {
		_ = w.Close()
		fmt.Fprintf(stderr, "write: %v\n", err)
		return 1
	}
	if err := w.Close(); err != nil {
		fmt.Fprintf(stderr, "close: %v\n", err)
		return 1
	}
	log.Info("key index written", "source", *source, "output", *out, "rows", t.Len())
	return 0
}
