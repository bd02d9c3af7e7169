// Package cached wraps an attachment file store with a local disk cache.
//
// Message attachments are immutable once uploaded, so cache entries never
// need invalidation beyond their TTL; a Delete drops the local copy along
// with the backend object.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pmbox/pmbox/store"
)

// Store caches attachment content on local disk in front of a backend
// file store.
type Store struct {
	backend store.AttachmentFileStore
	dir     string
	maxSize int64
	ttl     time.Duration
	logger  *slog.Logger

	size atomic.Int64
}

var _ store.AttachmentFileStore = (*Store)(nil)

// New wraps backend with a disk cache.
func New(backend store.AttachmentFileStore, opts ...Option) (*Store, error) {
	o := &options{
		cacheDir: os.TempDir(),
		maxSize:  1 << 30,
		ttl:      24 * time.Hour,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	dir := filepath.Join(o.cacheDir, "pmbox-attachments")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Store{
		backend: backend,
		dir:     dir,
		maxSize: o.maxSize,
		ttl:     o.ttl,
		logger:  o.logger,
	}
	s.size.Store(s.measure())

	if o.ttl > 0 {
		go s.sweepLoop()
	}
	return s, nil
}

// Upload passes straight through; content enters the cache on first Load.
func (s *Store) Upload(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	return s.backend.Upload(ctx, filename, contentType, content)
}

// Load serves from the cache when a fresh entry exists, otherwise streams
// from the backend while filling the cache.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	entry := s.entryPath(uri)

	if info, err := os.Stat(entry); err == nil {
		if time.Since(info.ModTime()) < s.ttl {
			if f, err := os.Open(entry); err == nil {
				s.logger.Debug("attachment cache hit", "uri", uri)
				now := time.Now()
				_ = os.Chtimes(entry, now, now)
				return f, nil
			}
		} else {
			os.Remove(entry)
			s.size.Add(-info.Size())
		}
	}

	s.logger.Debug("attachment cache miss", "uri", uri)
	src, err := s.backend.Load(ctx, uri)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, "tmp-*")
	if err != nil {
		// Serve uncached rather than failing the load.
		s.logger.Warn("failed to create cache temp file", "error", err)
		return src, nil
	}
	return &fillReader{src: src, tmp: tmp, entry: entry, store: s}, nil
}

// Delete drops the cached copy and removes the backend object.
func (s *Store) Delete(ctx context.Context, uri string) error {
	entry := s.entryPath(uri)
	if info, err := os.Stat(entry); err == nil {
		os.Remove(entry)
		s.size.Add(-info.Size())
	}
	return s.backend.Delete(ctx, uri)
}

// ClearCache removes every cached file.
func (s *Store) ClearCache() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			os.Remove(filepath.Join(s.dir, e.Name()))
		}
	}
	s.size.Store(0)
	s.logger.Info("attachment cache cleared")
	return nil
}

// entryPath maps a backend URI to its cache file.
func (s *Store) entryPath(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:]))
}

// measure walks the cache directory to establish the starting size.
func (s *Store) measure() int64 {
	var total int64
	err := filepath.Walk(s.dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to measure cache size", "error", err)
	}
	return total
}

// sweepLoop drops entries past their TTL.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for range ticker.C {
		s.sweep()
	}
}

func (s *Store) sweep() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to read cache dir for sweep", "error", err)
		return
	}

	now := time.Now()
	var removed int
	var freed int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) <= s.ttl {
			continue
		}
		if os.Remove(filepath.Join(s.dir, e.Name())) == nil {
			removed++
			freed += info.Size()
		}
	}

	if removed > 0 {
		s.size.Add(-freed)
		s.logger.Info("attachment cache sweep", "removed", removed, "freed_bytes", freed)
	}
}

// fillReader streams from the backend while copying into a temp file,
// promoting the temp file to a cache entry on a clean close.
type fillReader struct {
	src    io.ReadCloser
	tmp    *os.File
	entry  string
	store  *Store
	n      int64
	closed bool
}

func (r *fillReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		if _, werr := r.tmp.Write(p[:n]); werr != nil {
			r.store.logger.Warn("failed to write cache entry", "error", werr)
		}
		r.n += int64(n)
	}
	return n, err
}

func (r *fillReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	srcErr := r.src.Close()
	if err := r.tmp.Close(); err != nil {
		os.Remove(r.tmp.Name())
		return srcErr
	}

	if r.store.size.Load()+r.n > r.store.maxSize {
		os.Remove(r.tmp.Name())
		r.store.logger.Debug("attachment cache full", "size", r.n)
		return srcErr
	}

	if err := os.Rename(r.tmp.Name(), r.entry); err != nil {
		os.Remove(r.tmp.Name())
		r.store.logger.Warn("failed to promote cache entry", "error", err)
		return srcErr
	}
	r.store.size.Add(r.n)
	r.store.logger.Debug("cached attachment", "path", r.entry, "size", r.n)
	return srcErr
}
