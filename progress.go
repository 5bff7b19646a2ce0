package crate

// ProgressEvent represents a progress update during open or write operations.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// Done is the number of records completed.
	Done int

	// Total is the total number of records.
	// Zero indicates the total is unknown (indeterminate progress).
	Total int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages for open and write operations.
const (
	// StageReading indicates native records are being read into the tree.
	StageReading ProgressStage = iota

	// StageWriting indicates the tree is being serialized to the native layout.
	StageWriting
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageReading:
		return "reading"
	case StageWriting:
		return "writing"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Progress is advisory only; implementations must not mutate the archive.
type ProgressFunc func(ProgressEvent)
