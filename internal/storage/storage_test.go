package storage

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"stardim/internal/table"
)

type fakeRepo struct {
	calls   []string
	copied  map[string][][]any
	copyErr error
}

func (f *fakeRepo) Close() { f.calls = append(f.calls, "close") }

func (f *fakeRepo) EnsureTables(_ context.Context, tables []TableSpec) error {
	for _, t := range tables {
		f.calls = append(f.calls, "ensure "+t.Name)
	}
	return nil
}

func (f *fakeRepo) DeleteRows(_ context.Context, name string) error {
	f.calls = append(f.calls, "delete "+name)
	return nil
}

func (f *fakeRepo) CopyRows(_ context.Context, name string, columns []string, rows [][]any) (int64, error) {
	f.calls = append(f.calls, "copy "+name)
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	if f.copied == nil {
		f.copied = map[string][][]any{}
	}
	f.copied[name] = append(f.copied[name], rows...)
	return int64(len(rows)), nil
}

func dimAndFact(t *testing.T) (*table.Table, *table.Table) {
	t.Helper()
	dim := table.New("Dim_Time_keys", []string{"ID", "Date", "IsWeekend"},
		[]table.Kind{table.KindInt, table.KindDate, table.KindBool})
	_ = dim.Append(int64(1), time.Date(2016, 1, 5, 0, 0, 0, 0, time.UTC), false)
	_ = dim.Append(int64(2), time.Date(2016, 1, 10, 0, 0, 0, 0, time.UTC), true)

	fact := table.New("sales", []string{"Store", "Qty", "SalesDate_ID"},
		[]table.Kind{table.KindAny, table.KindFloat, table.KindInt})
	_ = fact.Append(int64(7), 1.5, int64(1))
	_ = fact.Append("A9", nil, nil)
	_ = fact.Append("B1", 2.0, int64(2))
	return dim, fact
}

func TestSpecFor(t *testing.T) {
	t.Parallel()

	dim, fact := dimAndFact(t)
	ds, err := SpecFor("dim_time", dim, "ID", nil)
	if err != nil {
		t.Fatalf("SpecFor(dim): %v", err)
	}
	if ds.PrimaryKey != "ID" || ds.Columns[0].Nullable || ds.Columns[1].Type != TypeDate || ds.Columns[2].Type != TypeBool {
		t.Fatalf("dim spec = %+v", ds)
	}

	fs, err := SpecFor("sales", fact, "", map[string]Reference{"SalesDate_ID": {Table: "dim_time", Column: "ID"}})
	if err != nil {
		t.Fatalf("SpecFor(fact): %v", err)
	}
	want := []ColumnSpec{
		{Name: "Store", Type: TypeText, Nullable: true},
		{Name: "Qty", Type: TypeFloat, Nullable: true},
		{Name: "SalesDate_ID", Type: TypeInt, Nullable: true, References: "dim_time(ID)"},
	}
	if !reflect.DeepEqual(fs.Columns, want) {
		t.Fatalf("fact columns = %+v", fs.Columns)
	}

	if _, err := SpecFor("x", fact, "ID", nil); !errors.Is(err, table.ErrMissingColumn) {
		t.Fatalf("SpecFor(missing pk) = %v", err)
	}
	if _, err := SpecFor("", fact, "", nil); err == nil {
		t.Fatalf("SpecFor(empty name) = nil")
	}
}

func TestCoerceTextColumns(t *testing.T) {
	t.Parallel()

	_, fact := dimAndFact(t)
	spec, _ := SpecFor("sales", fact, "", nil)
	got := Coerce(spec, fact.Rows)
	if got[0][0] != "7" || got[0][1] != 1.5 || got[1][1] != nil || got[1][0] != "A9" {
		t.Fatalf("Coerce = %v", got)
	}
	if fact.Rows[0][0] != int64(7) {
		t.Fatalf("Coerce modified input")
	}
}

func TestIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"data/Ventas Año 2016.csv", "ventas_ano_2016"},
		{"s3://bucket/in/SalesFINAL12312016.csv", "salesfinal12312016"},
		{"2016-purchases.csv", "t_2016_purchases"},
		{"__Dim  Vendor__.csv", "dim_vendor"},
		{"***.csv", "t"},
	}
	for _, tc := range tests {
		if got := TableName(tc.in); got != tc.want {
			t.Fatalf("TableName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadAllReplaceOrder(t *testing.T) {
	t.Parallel()

	dim, fact := dimAndFact(t)
	ds, _ := SpecFor("dim_time", dim, "ID", nil)
	fs, _ := SpecFor("sales", fact, "", nil)

	repo := &fakeRepo{}
	l := &Loader{Repo: repo, Mode: LoadReplace, BatchSize: 2}
	n, err := l.LoadAll(context.Background(), []Load{{Spec: ds, Table: dim}, {Spec: fs, Table: fact}})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if n != 5 {
		t.Fatalf("loaded = %d, want 5", n)
	}
	want := []string{
		"ensure dim_time", "ensure sales",
		"delete sales", "delete dim_time",
		"copy dim_time",
		"copy sales", "copy sales",
	}
	if !reflect.DeepEqual(repo.calls, want) {
		t.Fatalf("calls = %v\nwant %v", repo.calls, want)
	}
	if len(repo.copied["sales"]) != 3 || repo.copied["sales"][0][0] != "7" {
		t.Fatalf("copied = %v", repo.copied["sales"])
	}
}

func TestLoadAllAppendAndErrors(t *testing.T) {
	t.Parallel()

	dim, _ := dimAndFact(t)
	ds, _ := SpecFor("dim_time", dim, "ID", nil)

	repo := &fakeRepo{}
	l := &Loader{Repo: repo, Mode: LoadAppend}
	if _, err := l.LoadAll(context.Background(), []Load{{Spec: ds, Table: dim}}); err != nil {
		t.Fatalf("LoadAll(append): %v", err)
	}
	for _, c := range repo.calls {
		if strings.HasPrefix(c, "delete") {
			t.Fatalf("append mode deleted rows: %v", repo.calls)
		}
	}

	l.Mode = "upsert"
	if _, err := l.LoadAll(context.Background(), []Load{{Spec: ds, Table: dim}}); err == nil {
		t.Fatalf("LoadAll(unknown mode) = nil")
	}

	boom := errors.New("boom")
	l = &Loader{Repo: &fakeRepo{copyErr: boom}}
	if _, err := l.LoadAll(context.Background(), []Load{{Spec: ds, Table: dim}}); !errors.Is(err, boom) {
		t.Fatalf("LoadAll(copy error) = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	Register("fake-test", func(context.Context, Config) (Repository, error) { return &fakeRepo{}, nil })

	r, err := New(context.Background(), Config{Kind: "fake-test"})
	if err != nil || r == nil {
		t.Fatalf("New(fake-test) = %v, %v", r, err)
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("New(empty kind) = nil error")
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("New(nope) = nil error")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("duplicate Register did not panic")
		}
	}()
	Register("fake-test", func(context.Context, Config) (Repository, error) { return nil, nil })
}
