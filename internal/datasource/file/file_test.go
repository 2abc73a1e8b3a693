package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"stardim/internal/datasource"
)

func TestCreateIsAtomicAndOpenReadsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dst := filepath.Join(t.TempDir(), "out", "Dim_Time_keys.csv")

	w, err := Store{}.Create(ctx, dst)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := io.WriteString(w, "ID,Date\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("destination visible before Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rc, err := Store{}.Open(ctx, dst)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "ID,Date\n" {
		t.Fatalf("read back %q", b)
	}
}

func TestOpenMissingIsSourceNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, ref := range []string{filepath.Join(dir, "nope.csv"), dir} {
		_, err := Store{}.Open(context.Background(), ref)
		if !errors.Is(err, datasource.ErrSourceNotFound) {
			t.Fatalf("Open(%q) err = %v, want ErrSourceNotFound", ref, err)
		}
	}
}
