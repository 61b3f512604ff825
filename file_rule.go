package rxfer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/derektruong/rxfer/internal/fileutils"
	"github.com/samber/lo"
)

var (
	ErrMaxFileSizeExceeded = func(required, got int64) error {
		return fmt.Errorf("file size exceeds the maximum allowed size: %d > %d bytes", got, required)
	}
	ErrMinFileSizeNotMet = func(required, got int64) error {
		return fmt.Errorf("file size does not meet the minimum required size: %d < %d bytes", got, required)
	}
	ErrExtensionNotAllowed = func(ext string) error {
		return fmt.Errorf("file extension is not allowed: %s", ext)
	}
	ErrExtensionBlocked = func(ext string) error {
		return fmt.Errorf("file extension is blocked: %s", ext)
	}
	ErrModifiedBefore = func(t time.Time) error {
		return fmt.Errorf("file was modified before the required time: %s", t.Format(time.RFC3339))
	}
	ErrModifiedAfter = func(t time.Time) error {
		return fmt.Errorf("file was modified after the required time: %s", t.Format(time.RFC3339))
	}
	ErrFileNamePatternMismatch = func(pattern string) error {
		return fmt.Errorf("file name does not match the required pattern: %s", pattern)
	}
)

// fileRule defines the rules a local file must follow to be uploaded
type fileRule struct {
	// MaxFileSize allows setting a maximum file size for upload.
	MaxFileSize int64
	// MinFileSize allows setting a minimum file size for upload.
	MinFileSize int64
	// ExtensionWhitelist allows setting a list of allowed file extensions.
	ExtensionWhitelist []string
	// ExtensionBlacklist allows setting a list of blocked file extensions.
	ExtensionBlacklist []string
	// ModifiedAfter allows setting a minimum modified time for upload.
	ModifiedAfter time.Time
	// ModifiedBefore allows setting a maximum modified time for upload.
	ModifiedBefore time.Time
	// FileNamePattern allows setting a regular expression pattern for file names.
	FileNamePattern *regexp.Regexp
}

// Check returns the first rule the file at filePath breaks, nil if none.
// Extensions are compared case-insensitively and without leading dot.
func (r *fileRule) Check(filePath string, fileInfo os.FileInfo) (err error) {
	// check file size
	if r.MaxFileSize > 0 && fileInfo.Size() > r.MaxFileSize {
		return ErrMaxFileSizeExceeded(r.MaxFileSize, fileInfo.Size())
	}
	if r.MinFileSize > 0 && fileInfo.Size() < r.MinFileSize {
		return ErrMinFileSizeNotMet(r.MinFileSize, fileInfo.Size())
	}

	// check file extension
	var ext string
	if _, _, ext, err = fileutils.ExtractFileParts(filePath); err != nil {
		return
	}
	ext = strings.ToLower(ext)
	if len(r.ExtensionWhitelist) > 0 && !lo.Contains(normalizeExtensions(r.ExtensionWhitelist), ext) {
		return ErrExtensionNotAllowed(ext)
	}
	if len(r.ExtensionBlacklist) > 0 && lo.Contains(normalizeExtensions(r.ExtensionBlacklist), ext) {
		return ErrExtensionBlocked(ext)
	}

	// check modified time
	if !r.ModifiedAfter.IsZero() &&
		fileInfo.ModTime().Before(r.ModifiedAfter) {
		return ErrModifiedAfter(r.ModifiedAfter)
	}
	if !r.ModifiedBefore.IsZero() &&
		fileInfo.ModTime().After(r.ModifiedBefore) {
		return ErrModifiedBefore(r.ModifiedBefore)
	}

	// check file name pattern
	if r.FileNamePattern != nil &&
		!r.FileNamePattern.MatchString(filepath.Base(filePath)) {
		return ErrFileNamePatternMismatch(r.FileNamePattern.String())
	}
	return
}

func normalizeExtensions(extensions []string) []string {
	return lo.Map(extensions, func(ext string, _ int) string {
		return strings.ToLower(strings.TrimPrefix(ext, "."))
	})
}
