// Package file is the local filesystem datasource.Store.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"stardim/internal/datasource"
)

// Store opens and creates local files. Created files are written to a
// temporary sibling and renamed into place on Close, so a reader never sees
// a partial file.
type Store struct{}

var _ datasource.Store = Store{}

// Open implements datasource.Store.
func (Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(ref)
	if err != nil {
		return nil, datasource.NotFound(ref, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, datasource.NotFound(ref, err)
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, datasource.NotFound(ref, fmt.Errorf("is a directory"))
	}
	return f, nil
}

// Create implements datasource.Store.
func (Store) Create(ctx context.Context, ref string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Dir(ref)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", ref, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(ref)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", ref, err)
	}
	return &atomicFile{f: tmp, dst: ref}, nil
}

type atomicFile struct {
	f   *os.File
	dst string
}

func (a *atomicFile) Write(p []byte) (int, error) { return a.f.Write(p) }

func (a *atomicFile) Close() error {
	if err := a.f.Close(); err != nil {
		_ = os.Remove(a.f.Name())
		return fmt.Errorf("close %s: %w", a.dst, err)
	}
	if err := os.Chmod(a.f.Name(), 0o644); err != nil {
		_ = os.Remove(a.f.Name())
		return fmt.Errorf("chmod %s: %w", a.dst, err)
	}
	if err := os.Rename(a.f.Name(), a.dst); err != nil {
		_ = os.Remove(a.f.Name())
		return fmt.Errorf("rename %s: %w", a.dst, err)
	}
	return nil
}
