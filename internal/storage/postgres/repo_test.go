package postgres

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"

	"stardim/internal/storage"
)

func TestBuildCreateSQL_QualifiedDimension(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "star.dim_time",
		PrimaryKey: "ID",
		Columns: []storage.ColumnSpec{
			{Name: "ID", Type: storage.TypeInt},
			{Name: "Date", Type: storage.TypeDate, Nullable: true},
			{Name: "IsWeekend", Type: storage.TypeBool},
		},
	}
	schemaSQL, tableSQL, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if schemaSQL != `CREATE SCHEMA IF NOT EXISTS "star";` {
		t.Fatalf("schemaSQL = %q", schemaSQL)
	}
	want := `CREATE TABLE IF NOT EXISTS "star"."dim_time" ("ID" BIGINT PRIMARY KEY, "Date" DATE, "IsWeekend" BOOLEAN NOT NULL);`
	if tableSQL != want {
		t.Fatalf("tableSQL =\n%s\nwant\n%s", tableSQL, want)
	}
}

func TestBuildCreateSQL_FactReferences(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name: "sales",
		Columns: []storage.ColumnSpec{
			{Name: "Qty", Type: storage.TypeFloat, Nullable: true},
			{Name: "SalesDate_ID", Type: storage.TypeInt, Nullable: true, References: "dim_time(ID)"},
		},
	}
	schemaSQL, tableSQL, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if schemaSQL != "" {
		t.Fatalf("schemaSQL = %q, want empty for unqualified table", schemaSQL)
	}
	if !strings.Contains(tableSQL, `"Qty" DOUBLE PRECISION`) ||
		!strings.Contains(tableSQL, `"SalesDate_ID" BIGINT REFERENCES "dim_time"("ID")`) {
		t.Fatalf("tableSQL = %s", tableSQL)
	}
}

func TestBuildCreateSQL_Errors(t *testing.T) {
	t.Parallel()

	if _, _, err := buildCreateSQL(storage.TableSpec{}); err == nil {
		t.Fatalf("empty name: want error")
	}
	if _, _, err := buildCreateSQL(storage.TableSpec{Name: "t"}); err == nil {
		t.Fatalf("no columns: want error")
	}
	if _, _, err := buildCreateSQL(storage.TableSpec{Name: "t", Columns: []storage.ColumnSpec{{Type: storage.TypeInt}}}); err == nil {
		t.Fatalf("empty column name: want error")
	}
}

func TestIdentHelpers(t *testing.T) {
	t.Parallel()

	if got := pgFQN(`public.we"ird`); got != `"public"."we""ird"` {
		t.Fatalf("pgFQN = %s", got)
	}
	if got := splitFQN("public.sales"); !reflect.DeepEqual(got, pgx.Identifier{"public", "sales"}) {
		t.Fatalf("splitFQN = %v", got)
	}
	if s, tb := splitQualifiedName("a.b.c"); s != "" || tb != "a.b.c" {
		t.Fatalf("splitQualifiedName(a.b.c) = %q, %q", s, tb)
	}
	if got := referenceSQL("star.dim_time(ID)"); got != `"star"."dim_time"("ID")` {
		t.Fatalf("referenceSQL = %s", got)
	}
}
