package csv

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"

	"stardim/internal/config"
	"stardim/internal/table"
)

func TestReadTableInfersKindsAndMissing(t *testing.T) {
	t.Parallel()

	const in = "\uFEFFStore , Brand,Price,SalesDate,Flag\n" +
		"1,Ketel One, 2.50,2016-01-05,True\n" +
		"2,NA,3,,false\n"

	got, err := ReadTable(context.Background(), strings.NewReader(in), "sales.csv", Options{TrimSpace: true})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	wantCols := []string{"Store", "Brand", "Price", "SalesDate", "Flag"}
	for i, c := range wantCols {
		if got.Columns[i] != c {
			t.Fatalf("Columns = %q, want %q", got.Columns, wantCols)
		}
	}
	wantKinds := []table.Kind{table.KindInt, table.KindText, table.KindFloat, table.KindText, table.KindBool}
	for i, k := range wantKinds {
		if got.Kinds[i] != k {
			t.Fatalf("Kinds[%d] = %v, want %v", i, got.Kinds[i], k)
		}
	}
	if got.Len() != 2 {
		t.Fatalf("Len = %d, want 2", got.Len())
	}
	if got.Rows[0][0] != int64(1) || got.Rows[0][2] != 2.5 || got.Rows[0][4] != true {
		t.Fatalf("row 0 = %#v", got.Rows[0])
	}
	if got.Rows[1][1] != nil || got.Rows[1][3] != nil {
		t.Fatalf("row 1 missing cells = %#v, want nil", got.Rows[1])
	}
}

func TestReadTableColumnsProjection(t *testing.T) {
	t.Parallel()

	const in = "a,b,c\n1,x,2016-01-05\n2,y,2016/01/06\n"
	got, err := ReadTable(context.Background(), strings.NewReader(in), "f.csv", Options{Columns: []string{"c", "a"}})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(got.Columns) != 2 || got.Columns[0] != "c" || got.Columns[1] != "a" {
		t.Fatalf("Columns = %v, want [c a]", got.Columns)
	}
	if got.Rows[1][0] != "2016/01/06" || got.Rows[1][1] != int64(2) {
		t.Fatalf("row 1 = %#v", got.Rows[1])
	}

	_, err = ReadTable(context.Background(), strings.NewReader(in), "f.csv", Options{Columns: []string{"zz"}})
	if !errors.Is(err, table.ErrMissingColumn) {
		t.Fatalf("ReadTable(usecols zz) err = %v, want ErrMissingColumn", err)
	}
}

func TestReadTableShortAndLongRecords(t *testing.T) {
	t.Parallel()

	got, err := ReadTable(context.Background(), strings.NewReader("a,b\n1\n"), "f.csv", Options{})
	if err != nil {
		t.Fatalf("ReadTable(short): %v", err)
	}
	if got.Rows[0][1] != nil {
		t.Fatalf("short row padded with %#v, want nil", got.Rows[0][1])
	}

	if _, err := ReadTable(context.Background(), strings.NewReader("a,b\n1,2,3\n"), "f.csv", Options{}); err == nil {
		t.Fatalf("ReadTable(long): want error")
	}
	if _, err := ReadTable(context.Background(), strings.NewReader(""), "f.csv", Options{}); err == nil {
		t.Fatalf("ReadTable(empty): want error")
	}
}

func TestReadTableDuplicateHeadersAndHeaderMap(t *testing.T) {
	t.Parallel()

	opt := OptionsFrom(config.Options{
		"comma":      ";",
		"header_map": map[string]any{"Pay Date": "PayDate"},
	})
	got, err := ReadTable(context.Background(), strings.NewReader("Pay Date;x;x\n2016-01-05;1;2\n"), "f.csv", opt)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	want := []string{"PayDate", "x", "x.1"}
	for i := range want {
		if got.Columns[i] != want[i] {
			t.Fatalf("Columns = %v, want %v", got.Columns, want)
		}
	}
}

func TestReadTableEncoding(t *testing.T) {
	t.Parallel()

	enc, err := charmap.Windows1252.NewEncoder().Bytes([]byte("Vendor\nCafé Olé\n"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadTable(context.Background(), bytes.NewReader(enc), "f.csv", Options{Encoding: "windows-1252"})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if got.Rows[0][0] != "Café Olé" {
		t.Fatalf("decoded = %q", got.Rows[0][0])
	}

	if _, err := ReadTable(context.Background(), bytes.NewReader(enc), "f.csv", Options{Encoding: "klingon"}); err == nil {
		t.Fatalf("ReadTable(unknown encoding): want error")
	}
}

func TestNAValuesOverride(t *testing.T) {
	t.Parallel()

	opt := OptionsFrom(config.Options{"na_values": []any{"-"}})
	got, err := ReadTable(context.Background(), strings.NewReader("a\nNA\n-\n"), "f.csv", opt)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if got.Rows[0][0] != "NA" || got.Rows[1][0] != nil {
		t.Fatalf("rows = %#v", got.Rows)
	}
}

func TestWriteTable(t *testing.T) {
	t.Parallel()

	tb := table.New("dim", []string{"ID", "Date", "DayOfWeek", "IsWeekend", "Note"}, nil)
	_ = tb.Append(int64(1), time.Date(2016, 1, 3, 0, 0, 0, 0, time.UTC), "Sunday", true, nil)
	_ = tb.Append(int64(2), time.Date(2016, 1, 4, 0, 0, 0, 0, time.UTC), "Monday", false, "a,b")

	var buf bytes.Buffer
	if err := WriteTable(&buf, tb, 0); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	want := "ID,Date,DayOfWeek,IsWeekend,Note\n" +
		"1,2016-01-03,Sunday,True,\n" +
		"2,2016-01-04,Monday,False,\"a,b\"\n"
	if buf.String() != want {
		t.Fatalf("WriteTable =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestContextCancelled(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("a\n")
	for i := 0; i < 5000; i++ {
		b.WriteString("1\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ReadTable(ctx, strings.NewReader(b.String()), "f.csv", Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("ReadTable err = %v, want context.Canceled", err)
	}
}
