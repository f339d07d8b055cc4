// Package blob implements the Blob Store (BS) adapter from spec.md §4.5:
// Put is put-if-absent, Get fails with domain.ErrNotFound, Delete is the
// compensating action the Ingress rollback protocol uses.
package blob

import (
	"context"
	"io"
)

type Store interface {
	// Put writes b under key only if key does not already exist.
	Put(ctx context.Context, key string, b []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	// Exists reports whether key has an object, without fetching its
	// bytes. The Ingress reconciler's orphan-row GC pass uses this to
	// decide whether an RS row's blob is missing.
	Exists(ctx context.Context, key string) (bool, error)
}

// Reader adapts a []byte for callers that want io.Reader semantics without
// depending on this package's concrete Put signature.
func Reader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
