package scaffold

import (
	"fmt"
	"os"
)

// ErrExists is returned by CheckExisting when the configuration is already there.
type ErrExists struct {
	Path string
}

func (e *ErrExists) Error() string {
	return fmt.Sprintf("%s already exists", e.Path)
}

// CheckExisting returns an *ErrExists if path is already present.
func CheckExisting(path string) error {
	if _, err := os.Stat(path); err == nil {
		return &ErrExists{Path: path}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}
	return nil
}
