// Package archive provides pooled, failure-isolated access to the remote
// pricing file archive.
package archive

import (
	"context"
)

// Entry is one listing row returned by a connection.
type Entry struct {
	Name string
	Dir  bool
	Size int64
}

// Conn is a live session to the remote archive.
type Conn interface {
	List(ctx context.Context, path string) ([]Entry, error)
	Retrieve(ctx context.Context, path string) ([]byte, error)
	Ping() error
	Close() error
}

// Dialer establishes new archive sessions.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
