// Package pipeline runs a whole stardim job: the date dimension, the
// normalized sources, the keyed dimensions and the optional warehouse load.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stardim/internal/calendar"
	"stardim/internal/config"
	"stardim/internal/datasource"
	"stardim/internal/datasource/file"
	"stardim/internal/datasource/s3"
	"stardim/internal/dimension"
	"stardim/internal/extract"
	"stardim/internal/logger"
	"stardim/internal/metrics"
	"stardim/internal/normalize"
	csvparser "stardim/internal/parser/csv"
	"stardim/internal/storage"
	"stardim/internal/table"
)

// Runner executes pipelines. The function fields are seams for tests.
type Runner struct {
	// NewStore returns the store used for sources and outputs.
	NewStore func(ctx context.Context, p config.Pipeline) (datasource.Store, error)

	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	NewRunID func() string
	Logger   *slog.Logger
}

// Report summarises one run.
type Report struct {
	RunID         string
	DateDimension int
	// Normalized maps each source to its row count.
	Normalized map[string]int
	Unmatched  map[string]int
	// KeyIndexes maps each key index name to its row count.
	KeyIndexes map[string]int
	// Outputs lists every written reference in write order.
	Outputs []string
	Loaded  int64
}

// NewDefaultRunner wires the local filesystem, S3 when referenced, and the
// registered storage backends.
func NewDefaultRunner(log *slog.Logger) *Runner {
	return &Runner{
		NewStore:      DefaultStore,
		NewRepository: storage.New,
		NewRunID:      uuid.NewString,
		Logger:        log,
	}
}

// DefaultStore is StoreFor over every reference p reads or writes.
func DefaultStore(ctx context.Context, p config.Pipeline) (datasource.Store, error) {
	refs := append(p.SourcePaths(), p.Output.Target)
	for _, ki := range p.KeyIndexes {
		refs = append(refs, ki.Source)
	}
	return StoreFor(ctx, refs...)
}

// StoreFor serves plain paths from disk. An S3 client is only created when
// one of refs uses the s3 scheme.
func StoreFor(ctx context.Context, refs ...string) (datasource.Store, error) {
	mux := &datasource.Mux{Default: file.Store{}, Schemes: map[string]datasource.Store{}}
	for _, ref := range refs {
		if datasource.Scheme(ref) != "s3" {
			continue
		}
		st, err := s3.New(ctx)
		if err != nil {
			return nil, err
		}
		mux.Schemes["s3"] = st
		break
	}
	return mux, nil
}

// Run validates p and executes it.
func (r *Runner) Run(ctx context.Context, p config.Pipeline) (rep *Report, err error) {
	issues := config.ValidatePipeline(p)
	if config.HasErrors(issues) {
		var errs []error
		for _, iss := range issues {
			if iss.Severity == config.SeverityError {
				errs = append(errs, iss)
			}
		}
		return nil, fmt.Errorf("invalid pipeline: %w", errors.Join(errs...))
	}

	runID := uuid.NewString()
	if r.NewRunID != nil {
		runID = r.NewRunID()
	}
	log := logger.OrDiscard(r.Logger).With("job", p.Job, "run_id", runID)
	for _, iss := range issues {
		log.Warn("config warning", "path", iss.Path, "message", iss.Message)
	}

	start := time.Now()
	defer func() {
		metrics.RecordStep(p.Job, "pipeline", err, time.Since(start))
		if err != nil {
			log.Error("pipeline failed", "err", err, "duration", time.Since(start))
		}
	}()

	newStore := r.NewStore
	if newStore == nil {
		newStore = DefaultStore
	}
	store, err := newStore(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}

	weekend, err := calendar.ParseWeekendPolicy(p.DateDimension.Weekend)
	if err != nil {
		return nil, err
	}
	parser := calendar.NewParser(p.DateDimension.MonthFirst())
	csvOpt := csvparser.OptionsFrom(p.Parser.Options)
	loader := &extract.Loader{Store: store, Options: csvOpt, Logger: log}

	rep = &Report{
		RunID:      runID,
		Normalized: map[string]int{},
		KeyIndexes: map[string]int{},
	}
	write := func(ctx context.Context, name string, t *table.Table) error {
		ref := datasource.Join(p.Output.Target, name)
		if err := writeTable(ctx, store, ref, t, csvOpt.Comma); err != nil {
			return err
		}
		rep.Outputs = append(rep.Outputs, ref)
		log.Info("table written", "output", ref, "rows", t.Len())
		return nil
	}

	sources, err := dimension.Pair(p.SourcePaths(), p.DateColumns())
	if err != nil {
		return nil, err
	}
	dimName := storage.TableName(p.DateDimension.OutputName())
	if p.DateDimension.Table != "" {
		dimName = p.DateDimension.Table
	}
	n := &normalize.Normalizer{
		Loader: loader,
		Builder: &dimension.DateBuilder{
			Loader:  loader,
			Parser:  parser,
			Weekend: weekend,
			Logger:  log,
			Job:     p.Job,
		},
		Parser: parser,
		Persist: func(ctx context.Context, dim *table.Table) error {
			return write(ctx, p.DateDimension.OutputName(), dim)
		},
		DimensionName: dimName,
		Logger:        log,
		Job:           p.Job,
	}
	res, err := n.Normalize(ctx, sources)
	if err != nil {
		return nil, err
	}
	rep.DateDimension = res.Dimension.Len()
	rep.Unmatched = res.Unmatched

	for _, src := range res.Order {
		t := res.Tables[src]
		if err := write(ctx, p.Output.NormalizedName(src), t); err != nil {
			return nil, err
		}
		rep.Normalized[src] = t.Len()
	}

	indexer := &dimension.KeyIndexer{Loader: loader}
	keyTables := make([]*table.Table, 0, len(p.KeyIndexes))
	for _, ki := range p.KeyIndexes {
		t, err := indexer.Index(ctx, ki.Source, ki.Columns)
		if err != nil {
			return nil, fmt.Errorf("key index %s: %w", ki.Name, err)
		}
		t.Name = ki.Name
		if err := write(ctx, ki.OutputName(), t); err != nil {
			return nil, err
		}
		metrics.RecordRow(p.Job, "key_index", int64(t.Len()))
		rep.KeyIndexes[ki.Name] = t.Len()
		keyTables = append(keyTables, t)
	}

	if p.Storage.Kind != "" {
		loads, err := warehouseLoads(p, res, dimName, keyTables)
		if err != nil {
			return nil, err
		}
		if rep.Loaded, err = r.load(ctx, p, loads, log); err != nil {
			return nil, err
		}
	}

	log.Info("pipeline complete",
		"date_dimension", rep.DateDimension,
		"sources", len(res.Order),
		"key_indexes", len(keyTables),
		"loaded", rep.Loaded,
		"duration", time.Since(start),
	)
	return rep, nil
}

func (r *Runner) load(ctx context.Context, p config.Pipeline, loads []storage.Load, log *slog.Logger) (int64, error) {
	newRepo := r.NewRepository
	if newRepo == nil {
		newRepo = storage.New
	}
	repo, err := newRepo(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
	if err != nil {
		return 0, fmt.Errorf("storage %s: %w", p.Storage.Kind, err)
	}
	defer repo.Close()

	l := &storage.Loader{
		Repo:      repo,
		Mode:      p.Storage.LoadMode,
		BatchSize: p.Runtime.BatchSize,
		Logger:    log,
		Job:       p.Job,
	}
	return l.LoadAll(ctx, loads)
}

// warehouseLoads orders the date dimension first, then key indexes, then the
// normalized facts whose <col>_ID columns reference the date dimension.
func warehouseLoads(p config.Pipeline, res *normalize.Result, dimName string, keyTables []*table.Table) ([]storage.Load, error) {
	loads := make([]storage.Load, 0, 1+len(keyTables)+len(res.Order))

	dimTable := res.Dimension.Table(dimName)
	spec, err := storage.SpecFor(dimName, dimTable, dimension.IDColumn, nil)
	if err != nil {
		return nil, err
	}
	loads = append(loads, storage.Load{Spec: spec, Table: dimTable})

	for _, t := range keyTables {
		name := storage.Identifier(t.Name)
		spec, err := storage.SpecFor(name, t, dimension.IDColumn, nil)
		if err != nil {
			return nil, err
		}
		loads = append(loads, storage.Load{Spec: spec, Table: t})
	}

	dateCols := map[string][]string{}
	for _, s := range p.Sources {
		dateCols[s.Path] = s.DateColumns
	}
	ref := storage.Reference{Table: dimName, Column: dimension.IDColumn}
	for _, src := range res.Order {
		refs := map[string]storage.Reference{}
		for _, c := range dateCols[src] {
			refs[c+normalize.KeySuffix] = ref
		}
		name := storage.TableName(p.Output.NormalizedName(src))
		spec, err := storage.SpecFor(name, res.Tables[src], "", refs)
		if err != nil {
			return nil, err
		}
		loads = append(loads, storage.Load{Spec: spec, Table: res.Tables[src]})
	}
	return loads, nil
}

func writeTable(ctx context.Context, store datasource.Store, ref string, t *table.Table, comma rune) error {
	w, err := store.Create(ctx, ref)
	if err != nil {
		return fmt.Errorf("create %s: %w", ref, err)
	}
	if err := csvparser.WriteTable(w, t, comma); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", ref, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", ref, err)
	}
	return nil
}
