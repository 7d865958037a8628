// Package upload stores user-supplied plant data files on local disk and
// tracks them in a storage.Registry until they expire.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/metrics"
	"github.com/windyield/windyield/pkg/storage"
	"github.com/windyield/windyield/pkg/types"
)

// DefaultUploadID is the sentinel file id that selects the bundled dataset.
const DefaultUploadID = "default_la_haute_borne"

var (
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Config holds the upload store settings.
type Config struct {
	Dir           string
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// Configured registers the upload flags and returns the config once flags
// are parsed.
func Configured() *Config {
	dir := lflag.String("upload-dir", filepath.Join(os.TempDir(), "windyield-uploads"), "Directory uploaded plant data files are written to")
	maxAge := lflag.Duration("upload-max-age", 24*time.Hour, "Uploads older than this are removed by the sweep")
	interval := lflag.Duration("upload-sweep-interval", time.Hour, "How often to sweep expired uploads in the background (0 disables)")

	var c Config
	lflag.Do(func() {
		c.Dir = *dir
		c.MaxAge = *maxAge
		c.SweepInterval = *interval
	})
	return &c
}

// Store owns the upload directory and the registry records describing it.
type Store struct {
	cfg      Config
	registry storage.Registry
	metrics  *metrics.Metrics
	now      func() time.Time

	// serializes save, delete and sweep
	mu sync.Mutex
}

// New creates the upload directory if needed and returns a Store.
func New(cfg Config, registry storage.Registry) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{
		cfg:      cfg,
		registry: registry,
		now:      time.Now,
	}, nil
}

// WithMetrics makes the store count swept uploads.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// MaxAge is the configured expiry age.
func (s *Store) MaxAge() time.Duration {
	return s.cfg.MaxAge
}

func storedExt(filename string, fileType types.FileType) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = "." + string(fileType)
	}
	return ext
}

// Save writes content to disk and records it. A sweep runs afterwards so the
// directory never grows past the expiry age.
func (s *Store) Save(ctx context.Context, content []byte, filename string, meta types.UploadMeta) (string, error) {
	if !meta.FileType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, meta.FileType)
	}

	id := uuid.NewString()
	path := filepath.Join(s.cfg.Dir, id+storedExt(filename, meta.FileType))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	size := meta.SizeBytes
	if size == 0 {
		size = int64(len(content))
	}
	file := types.UploadedFile{
		ID:               id,
		OriginalFilename: filename,
		StoredPath:       path,
		FileType:         meta.FileType,
		UploadedAt:       s.now().UTC(),
		RowCount:         meta.RowCount,
		Columns:          meta.Columns,
		SizeBytes:        size,
	}
	if err := s.registry.PutUpload(ctx, file); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to remove upload after registry error", slog.String("path", path), slog.Any("error", rmErr))
		}
		return "", fmt.Errorf("failed to register upload: %w", err)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"saved upload",
		slog.String("fileID", id),
		slog.String("filename", filename),
		slog.Int("rows", meta.RowCount),
	)

	if _, err := s.sweepLocked(ctx, s.cfg.MaxAge); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "sweep after save failed", slog.Any("error", err))
	}
	return id, nil
}

// Resolve returns the on-disk path of an upload. It reports false for the
// empty id, the bundled dataset sentinel, unknown ids and records whose
// file is gone.
func (s *Store) Resolve(ctx context.Context, id string) (string, bool) {
	if id == "" || id == DefaultUploadID {
		return "", false
	}
	file, err := s.registry.GetUpload(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrUploadNotFound) {
			log.Ctx(ctx).WarnContext(ctx, "failed to look up upload", slog.String("fileID", id), slog.Any("error", err))
		}
		return "", false
	}
	if _, err := os.Stat(file.StoredPath); err != nil {
		log.Ctx(ctx).DebugContext(ctx, "upload file missing on disk", slog.String("fileID", id), slog.String("path", file.StoredPath))
		return "", false
	}
	return file.StoredPath, true
}

// Info returns the record for id or storage.ErrUploadNotFound.
func (s *Store) Info(ctx context.Context, id string) (types.UploadedFile, error) {
	return s.registry.GetUpload(ctx, id)
}

// List returns every record ordered by upload time.
func (s *Store) List(ctx context.Context) ([]types.UploadedFile, error) {
	return s.registry.ListUploads(ctx)
}

// Delete removes the file and its record, reporting whether the record
// existed. A file already missing from disk is not an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, id)
}

func (s *Store) deleteLocked(ctx context.Context, id string) (bool, error) {
	file, err := s.registry.GetUpload(ctx, id)
	if errors.Is(err, storage.ErrUploadNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := os.Remove(file.StoredPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to remove upload file: %w", err)
	}
	return s.registry.DeleteUpload(ctx, id)
}

// Sweep removes records uploaded strictly before now-maxAge along with their
// files, then removes files in the upload directory that have no record.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) (types.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(ctx, maxAge)
}

func (s *Store) sweepLocked(ctx context.Context, maxAge time.Duration) (types.SweepResult, error) {
	var res types.SweepResult
	cutoff := s.now().Add(-maxAge)

	files, err := s.registry.ListUploads(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list uploads: %w", err)
	}

	known := make(map[string]bool, len(files))
	for _, f := range files {
		if !f.UploadedAt.Before(cutoff) {
			known[filepath.Base(f.StoredPath)] = true
			res.Remaining++
			continue
		}
		if _, err := s.deleteLocked(ctx, f.ID); err != nil {
			return res, fmt.Errorf("failed to remove expired upload %s: %w", f.ID, err)
		}
		log.Ctx(ctx).DebugContext(ctx, "removed expired upload", slog.String("fileID", f.ID), slog.Time("uploadedAt", f.UploadedAt))
		res.Removed++
	}

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "failed to read upload directory", slog.Any("error", err))
	}
	for _, e := range entries {
		if e.IsDir() || known[e.Name()] {
			continue
		}
		path := filepath.Join(s.cfg.Dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Ctx(ctx).DebugContext(ctx, "failed to remove orphaned upload", slog.String("path", path), slog.Any("error", err))
			continue
		}
		res.Orphans++
	}

	if res.Removed > 0 || res.Orphans > 0 {
		log.Ctx(ctx).InfoContext(
			ctx,
			"swept uploads",
			slog.Int("removed", res.Removed),
			slog.Int("orphans", res.Orphans),
			slog.Int("remaining", res.Remaining),
		)
	}
	s.metrics.UploadsSwept(res.Removed + res.Orphans)
	return res, nil
}

// Run sweeps on the configured interval until ctx is done. It returns
// immediately when the interval is zero.
func (s *Store) Run(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.cfg.MaxAge); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "background sweep failed", slog.Any("error", err))
			}
		}
	}
}
