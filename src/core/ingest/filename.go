package ingest

import (
	"regexp"
	"strings"

	"logingest/src/apperr"
)

const (
	MaxFilenameLength = 255
	MaxFileSize       = 100 * 1024 * 1024
)

var safeFilename = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateFilename accepts 1 to 255 characters of [A-Za-z0-9._-] without "..".
func ValidateFilename(name string) error {
	if name == "" || len(name) > MaxFilenameLength {
		return apperr.ErrValidation.WithMessage("Filename must be between 1 and %d characters", MaxFilenameLength)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return apperr.ErrValidation.WithMessage("Filename cannot contain path separators or '..'")
	}
	if !safeFilename.MatchString(name) {
		return apperr.ErrValidation.WithMessage("Filename contains invalid characters")
	}
	return nil
}

// ValidateSize accepts sizes in (0, MaxFileSize].
func ValidateSize(size int64) error {
	if size <= 0 || size > MaxFileSize {
		return apperr.ErrValidation.WithMessage("File size must be between 1 and %d bytes", MaxFileSize)
	}
	return nil
}
