// Command dateprobe samples the head of a CSV extract and reports which
// columns hold dates, the layout they use and how many distinct values they
// carry. With --json it also emits a ready-to-paste pipeline source entry.
//
// Usage:
//
//	dateprobe --file SalesFINAL12312016.csv [--max-bytes 20480] [--json]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"stardim/internal/calendar"
	"stardim/internal/config"
	"stardim/internal/pipeline"
	"stardim/internal/probe"
)

type jsonReport struct {
	File    string               `json:"file"`
	Columns []probe.ColumnReport `json:"columns"`
	Source  config.Source        `json:"source"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("dateprobe", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		file       = fs.StringP("file", "f", "", "CSV path or s3:// URI to sample")
		maxBytes   = fs.Int("max-bytes", probe.DefaultMaxBytes, "bytes sampled from the start of the file")
		comma      = fs.String("comma", ",", "field delimiter")
		threshold  = fs.Float64("threshold", probe.DefaultThreshold, "share of non-empty values that must parse for a column to be suggested")
		monthFirst = fs.Bool("month-first", true, "read 01/02/2016 as January 2nd")
		asJSON     = fs.Bool("json", false, "emit a JSON report with a suggested source entry")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(stderr, "usage: dateprobe --file data.csv [--json]")
		return 2
	}
	if *maxBytes <= 0 {
		fmt.Fprintf(stderr, "--max-bytes must be positive, got %d\n", *maxBytes)
		return 2
	}
	if len([]rune(*comma)) != 1 {
		fmt.Fprintf(stderr, "comma must be a single character, got %q\n", *comma)
		return 2
	}

	// Sampling should be quick; a stalled remote source fails instead of hanging.
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	store, err := pipeline.StoreFor(ctx, *file)
	if err != nil {
		fmt.Fprintf(stderr, "datasource: %v\n", err)
		return 1
	}
	sample, err := probe.Peek(ctx, store, *file, *maxBytes)
	if err != nil {
		fmt.Fprintf(stderr, "peek: %v\n", err)
		return 1
	}
	reports, err := probe.DateColumns(sample, probe.Options{
		MaxBytes:  *maxBytes,
		Comma:     []rune(*comma)[0],
		Threshold: *threshold,
		Parser:    calendar.NewParser(*monthFirst),
	})
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}

	if !*asJSON {
		if _, err := stdout.Write(probe.Summary(reports)); err != nil {
			return 1
		}
		return 0
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonReport{
		File:    *file,
		Columns: reports,
		Source:  probe.SuggestSource(*file, reports),
	}); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}
