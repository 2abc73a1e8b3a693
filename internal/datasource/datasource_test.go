package datasource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
)

type memStore struct {
	name  string
	files map[string]string
}

func (m *memStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	s, ok := m.files[ref]
	if !ok {
		return nil, NotFound(ref, nil)
	}
	return io.NopCloser(bytes.NewBufferString(s)), nil
}

func (m *memStore) Create(context.Context, string) (io.WriteCloser, error) {
	return nil, errors.New(m.name + ": read only")
}

func TestMuxDispatch(t *testing.T) {
	t.Parallel()

	local := &memStore{name: "local", files: map[string]string{"a.csv": "local"}}
	remote := &memStore{name: "s3", files: map[string]string{"s3://b/a.csv": "remote"}}
	m := &Mux{Default: local, Schemes: map[string]Store{"s3": remote}}

	for ref, want := range map[string]string{"a.csv": "local", "s3://b/a.csv": "remote"} {
		rc, err := m.Open(context.Background(), ref)
		if err != nil {
			t.Fatalf("Open(%q): %v", ref, err)
		}
		b, _ := io.ReadAll(rc)
		if string(b) != want {
			t.Fatalf("Open(%q) = %q, want %q", ref, b, want)
		}
	}

	if _, err := m.Open(context.Background(), "gs://b/a.csv"); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("Open(gs://) err = %v, want ErrSourceNotFound", err)
	}
	if _, err := m.Create(context.Background(), "s3://b/x"); err == nil || err.Error() != "s3: read only" {
		t.Fatalf("Create dispatched wrong: %v", err)
	}
}

func TestSchemeJoinStem(t *testing.T) {
	t.Parallel()

	if got := Scheme("S3://bucket/k"); got != "s3" {
		t.Fatalf("Scheme = %q", got)
	}
	if got := Scheme(`C:\data\a.csv`); got != "" {
		t.Fatalf("Scheme(windows path) = %q", got)
	}
	if got := Join("s3://b/out/", "Dim_Time_keys.csv"); got != "s3://b/out/Dim_Time_keys.csv" {
		t.Fatalf("Join(s3) = %q", got)
	}
	if got := Join("out", "x.csv"); got != filepath.Join("out", "x.csv") {
		t.Fatalf("Join(dir) = %q", got)
	}
	if got := Join("", "x.csv"); got != "x.csv" {
		t.Fatalf("Join(empty) = %q", got)
	}
	if got := Stem("s3://b/in/SalesFINAL12312016.csv"); got != "SalesFINAL12312016" {
		t.Fatalf("Stem = %q", got)
	}
}
