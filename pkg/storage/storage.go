package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/windyield/windyield/pkg/types"
)

var (
	ErrUploadNotFound = errors.New("upload not found")
)

// Registry persists upload records. Implementations must be safe for
// concurrent use.
type Registry interface {
	// PutUpload stores the record, replacing any existing record with the same ID.
	PutUpload(ctx context.Context, file types.UploadedFile) error
	// GetUpload returns ErrUploadNotFound when no record exists.
	GetUpload(ctx context.Context, id string) (types.UploadedFile, error)
	// DeleteUpload removes the record and reports whether it existed.
	DeleteUpload(ctx context.Context, id string) (bool, error)
	ListUploads(ctx context.Context) ([]types.UploadedFile, error)

	// Lifecycle
	Close() error
}

// configured holds the provider chosen once flags are parsed.
type configured struct{ Registry }

// Persistent reports whether records written to r outlive the process. The
// memory provider does not.
func Persistent(r Registry) bool {
	if c, ok := r.(*configured); ok {
		r = c.Registry
	}
	_, mem := r.(*Memory)
	return !mem
}

// Configured sets up the Registry provider based on flags.
func Configured() Registry {
	provider := lflag.String("storage-provider", "memory", "Upload registry provider to use (available: memory, firestore, redis)")

	var p configured

	fs := configuredFirestore()
	rd := configuredRedis()

	lflag.Do(func() {
		switch *provider {
		case "memory":
			p.Registry = NewMemory()
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Registry = fs
		case "redis":
			if err := rd.Validate(); err != nil {
				panic(fmt.Sprintf("redis validation failed: %v", err))
			}
			if err := rd.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("redis init failed: %v", err))
			}
			p.Registry = rd
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
