package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates that a file path is safe and doesn't contain
// directory traversal attempts.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	return nil
}

// ValidateUploadPath validates a blob-store object path: relative, no
// traversal, no leading separator.
func ValidateUploadPath(path string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("upload path must be relative: %s", path)
	}
	return nil
}
