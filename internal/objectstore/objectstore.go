// Package objectstore is the narrow object storage surface the credential store is built on.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get, Copy and Delete for absent keys
var ErrNotFound = errors.New("object not found")

// Object describes a stored object returned by List
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Client is implemented by every storage backend
type Client interface {
	// Name identifies the backend in logs and health output
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Copy duplicates src to dst without the bytes passing through the caller when the
	// backend supports it. A reader never observes a partially written dst.
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// VersioningReporter is implemented by backends that can report object versioning status
type VersioningReporter interface {
	Versioning(ctx context.Context) (string, error)
}
