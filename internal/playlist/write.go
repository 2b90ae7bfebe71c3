package playlist

import (
	"fmt"

	"github.com/google/renameio/v2"
)

// WriteError reports a playlist artifact that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("playlist: write %s: %v", e.Path, e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

// WriteFile replaces the artifact at path atomically. A reader of path sees
// either the previous playlist or the new one, never a partial write.
func WriteFile(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
