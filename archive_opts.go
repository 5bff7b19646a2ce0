package crate

import "log/slog"

type config struct {
	registry      *Registry
	formatID      string
	logger        *slog.Logger
	progress      ProgressFunc
	deferPayloads bool
}

// Option configures Open and OpenFile.
type Option func(*config)

// WithRegistry sets the format registry used for detection and loading.
// Required: there is no ambient default registry.
func WithRegistry(r *Registry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithFormat bypasses magic-byte detection and selects the handler with
// the given format id.
func WithFormat(id string) Option {
	return func(c *config) {
		c.formatID = id
	}
}

// WithLogger sets the logger used for recoverable per-record problems
// during open and for lazy-load diagnostics. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithProgress sets a callback receiving coarse progress during long open
// and write scans.
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}

// WithDeferredPayloads asks handlers that support direct record seeking to
// skip reading entry payloads during open. Payloads are then fetched on
// demand through Archive.EntryData.
func WithDeferredPayloads() Option {
	return func(c *config) {
		c.deferPayloads = true
	}
}
