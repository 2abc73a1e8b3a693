// Package datasource opens source extracts and creates output objects by
// reference. A reference is a local path or a URI such as s3://bucket/key.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

// ErrSourceNotFound is returned (wrapped) when a reference cannot be opened.
var ErrSourceNotFound = errors.New("source not found")

// Store reads and writes objects addressed by reference.
type Store interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Create returns a writer whose content becomes visible at ref once
	// Close returns nil.
	Create(ctx context.Context, ref string) (io.WriteCloser, error)
}

// Mux dispatches references to a Store by URI scheme. References without a
// scheme go to Default.
type Mux struct {
	Default Store
	Schemes map[string]Store
}

// Open implements Store.
func (m *Mux) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	s, err := m.store(ref)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, ref)
}

// Create implements Store.
func (m *Mux) Create(ctx context.Context, ref string) (io.WriteCloser, error) {
	s, err := m.store(ref)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, ref)
}

func (m *Mux) store(ref string) (Store, error) {
	scheme := Scheme(ref)
	if scheme == "" {
		if m.Default == nil {
			return nil, fmt.Errorf("%w: %s: no default store", ErrSourceNotFound, ref)
		}
		return m.Default, nil
	}
	s, ok := m.Schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unsupported scheme %q", ErrSourceNotFound, ref, scheme)
	}
	return s, nil
}

// Scheme returns the lower-cased URI scheme of ref, or "" for plain paths.
// Windows drive letters (C:\...) are not schemes.
func Scheme(ref string) string {
	i := strings.Index(ref, "://")
	if i <= 1 {
		return ""
	}
	return strings.ToLower(ref[:i])
}

// Join appends name to a base reference: a directory or a URI prefix.
func Join(base, name string) string {
	if base == "" {
		return name
	}
	if Scheme(base) != "" {
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(name, "/")
	}
	return filepath.Join(base, name)
}

// Stem returns the last element of ref without its extension.
func Stem(ref string) string {
	base := path.Base(filepath.ToSlash(ref))
	return strings.TrimSuffix(base, path.Ext(base))
}

// NotFound wraps err as ErrSourceNotFound for ref.
func NotFound(ref string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, ref)
	}
	return fmt.Errorf("%w: %s: %w", ErrSourceNotFound, ref, err)
}
