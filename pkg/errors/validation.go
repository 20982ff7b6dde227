package errors

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// ValidatePath validates a user-supplied graph or output path.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}
	return nil
}

// ValidateGraphPath validates the path of a graph file. Graph files must be
// JSON documents.
func ValidateGraphPath(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".json" {
		return New(ErrCodeInvalidFormat, "graph file must have a .json extension, got %q", ext)
	}
	return nil
}

var graphHashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidateGraphHash validates a graph content hash as produced by the
// pipeline (lowercase hex SHA-256).
func ValidateGraphHash(hash string) error {
	if !graphHashRegex.MatchString(hash) {
		return New(ErrCodeInvalidInput, "invalid graph hash: %q", hash)
	}
	return nil
}
