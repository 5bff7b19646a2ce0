package crate

import "fmt"

// FormatInfo describes a container format's identity and capabilities.
// Capability flags are consulted before any mutation that could violate
// format constraints, so limits live here rather than in Entry or Dir.
type FormatInfo struct {
	// ID uniquely identifies the format, e.g. "zip".
	ID string

	// Name is the human-readable format name.
	Name string

	// Extensions lists typical file extensions, without dots.
	Extensions []string

	// MaxNameLength limits entry name length in bytes. Zero means unlimited.
	MaxNameLength int

	// SupportsDirs reports whether the archive tree may contain
	// directories at all. When false (e.g. WAD) every entry lives in the
	// root and CreateDir is rejected.
	SupportsDirs bool

	// NativeDirs reports whether the format stores directory records of
	// its own. Flat formats with SupportsDirs (e.g. PAK) instead flatten
	// the tree into full-path record names on write and split those paths
	// back into a tree on read.
	NativeDirs bool

	// AllowsDuplicateNames reports whether sibling entries may share a name.
	// When false, writers must refuse to serialize a tree with collisions.
	AllowsDuplicateNames bool

	// CanWrite reports whether the handler can serialize the tree.
	CanWrite bool
}

// FormatHandler translates between the in-memory tree and one on-disk
// container format. Handlers are stateless; all per-archive state lives in
// the Archive and its entry property bags.
type FormatHandler interface {
	// Format returns the format's identity and capability descriptor.
	Format() FormatInfo

	// Matches reports whether head looks like this format. It must inspect
	// only leading magic bytes, never attempt a full parse: it runs against
	// every registered format for every unknown file.
	Matches(head []byte) bool

	// Open populates the archive's tree from the native byte layout.
	// Individually unreadable records are logged and skipped; a structural
	// failure aborts with an error. Callers block signals around Open.
	Open(a *Archive, data []byte) error

	// Write serializes the current tree to the native byte layout. On
	// success each written entry's native position has been recorded in its
	// property bag for later single-entry reads.
	Write(a *Archive) ([]byte, error)

	// LoadEntryData reads one entry's payload from the archive's backing
	// file using the entry's recorded native position.
	LoadEntryData(a *Archive, e *Entry) ([]byte, error)
}

// Registry is an ordered collection of format handlers. Detection probes
// handlers in registration order and the first match wins, so register
// more specific signatures first.
//
// A Registry is constructed once and handed to Open via WithRegistry;
// there is no process-wide registry.
type Registry struct {
	handlers []FormatHandler
}

// NewRegistry creates a registry with the given handlers, in probe order.
func NewRegistry(handlers ...FormatHandler) *Registry {
	return &Registry{handlers: handlers}
}

// Register appends a handler to the probe order.
func (r *Registry) Register(h FormatHandler) {
	r.handlers = append(r.handlers, h)
}

// Handlers returns the registered handlers in probe order.
func (r *Registry) Handlers() []FormatHandler {
	out := make([]FormatHandler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// Handler returns the handler with the given format id.
func (r *Registry) Handler(id string) (FormatHandler, error) {
	for _, h := range r.handlers {
		if h.Format().ID == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, id)
}

// Detect returns the first handler whose signature matches the leading
// bytes of data.
func (r *Registry) Detect(data []byte) (FormatHandler, error) {
	head := data
	if len(head) > 32 {
		head = head[:32]
	}
	for _, h := range r.handlers {
		if h.Matches(head) {
			return h, nil
		}
	}
	return nil, ErrUnknownFormat
}
