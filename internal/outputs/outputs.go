// Package outputs appends key=value records to the invocation's structured
// output channel, the file named by the GITHUB_OUTPUT environment variable.
// Orchestrators read the last value written for a key, so re-emitting a key
// on every poll tick is how running progress is reported.
package outputs

import (
	"fmt"
	"io"
	"os"
)

// Writer appends key=value lines to an output destination.
type Writer struct {
	w      io.Writer
	closer io.Closer
}

// New opens the output channel: the GITHUB_OUTPUT file when the variable is
// set, stdout otherwise.
func New() (*Writer, error) {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return &Writer{w: os.Stdout}, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file %s: %w", path, err)
	}

	return &Writer{w: f, closer: f}, nil
}

// NewWithWriter wraps an arbitrary writer. Used by tests.
func NewWithWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Set appends one key=value record.
func (w *Writer) Set(key, value string) error {
	if _, err := fmt.Fprintf(w.w, "%s=%s\n", key, value); err != nil {
		return fmt.Errorf("failed to write output %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying file, if any.
func (w *Writer) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
