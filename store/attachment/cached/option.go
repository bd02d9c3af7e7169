package cached

import (
	"log/slog"
	"time"
)

type options struct {
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger
}

// Option configures the cache.
type Option func(*options)

// WithCacheDir places the cache under dir instead of the system temp
// directory. A pmbox-attachments subdirectory is created inside it.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithMaxSize caps the on-disk cache size in bytes, 1GB by default.
// Once full, loads still succeed but skip caching until the sweep
// frees space.
func WithMaxSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.maxSize = size
		}
	}
}

// WithTTL sets how long cached attachments stay fresh, 24 hours by
// default. Zero disables the background sweep.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithLogger overrides slog.Default for cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
