package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Store persists named artifact files in one flat namespace.
type Store interface {
	Put(ctx context.Context, name string, content []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context) ([]string, error)
	// Delete removes name. A missing name is not an error.
	Delete(ctx context.Context, name string) error
}

// Lister is the read side the resolver needs.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

var (
	ErrNotFound    = errors.New("storage: object not found")
	ErrInvalidName = errors.New("storage: invalid object name")
)

// ValidateName rejects names that would escape the flat namespace.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}
