// Package scaffold writes a starter mirror.yml.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/mirror/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes mirror.yml into dir. An existing file is an error unless
// force is set, in which case it is replaced.
func Initialize(dir string, force bool) (FileInfo, error) {
	path := filepath.Join(dir, config.DefaultPath)
	if !force {
		if err := CheckExisting(path); err != nil {
			return FileInfo{}, err
		}
	}

	content, err := templatesFS.ReadFile("templates/mirror.yml.tmpl")
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to read mirror.yml template: %w", err)
	}
	file := FileInfo{Path: path, Content: content, Permissions: 0644}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return FileInfo{}, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
		return FileInfo{}, fmt.Errorf("failed to write %s: %w", file.Path, err)
	}

	// The template must stay loadable as the configuration evolves
	if _, err := config.Load(file.Path); err != nil {
		return FileInfo{}, fmt.Errorf("created %s is not a valid configuration: %w", file.Path, err)
	}
	return file, nil
}
