package errors

import (
	"path"
	"strings"
	"unicode"
)

// ValidatePath validates a slash-separated path relative to an extraction
// root. Layer specs and archive entries are both checked with it, which is what
// keeps a crafted archive from writing outside its scratch directory.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No ".." path segments
//   - No backslashes (Windows-style paths)
func ValidatePath(p string) error {
	if p == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(p) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range p {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(p, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	if strings.Contains(p, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	for _, seg := range strings.Split(path.Clean(p), "/") {
		if seg == ".." {
			return New(ErrCodeInvalidPath, "path cannot contain path traversal sequences (..)")
		}
	}

	return nil
}

// ValidateArchiveName validates an uploaded archive filename.
// It ensures the filename is a simple basename without path components.
func ValidateArchiveName(filename string) error {
	if filename == "" {
		return New(ErrCodeInvalidInput, "archive filename cannot be empty")
	}

	if len(filename) > 255 {
		return New(ErrCodeInvalidInput, "archive filename too long (max 255 characters)")
	}

	if strings.ContainsAny(filename, "/\\") {
		return New(ErrCodeInvalidInput, "archive filename cannot contain path separators")
	}

	if strings.HasPrefix(filename, ".") {
		return New(ErrCodeInvalidInput, "archive filename cannot be a hidden file")
	}

	for _, r := range filename {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "archive filename contains invalid control characters")
		}
	}

	return nil
}
