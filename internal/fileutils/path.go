package fileutils

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath    = errors.New("file path is required")
	ErrPathEscapes  = errors.New("file path escapes its root")
	ErrReservedPath = errors.New("file path uses a reserved suffix")
)

// reserved suffixes of the sidecar files kept next to an object
var reservedSuffixes = []string{".info", ".part"}

// ExtractFileParts extracts the prefix, file name and extension from a path
// in the format <prefix_path>/<file_name>.<ext>. The extension is optional.
func ExtractFileParts(filePath string) (prefix, fileName, fileExt string, err error) {
	if filePath == "" {
		err = ErrEmptyPath
		return
	}
	base := filepath.Base(filePath)
	fileExt = strings.TrimPrefix(filepath.Ext(base), ".")
	fileName = strings.TrimSuffix(base, filepath.Ext(base))
	if dir := filepath.Dir(filePath); dir != "." {
		prefix = dir
	}
	return
}

// CleanKey turns a resource reference into a clean, slash separated key
// relative to a storage root.
func CleanKey(ref string) (key string, err error) {
	ref = strings.ReplaceAll(ref, "\\", "/")
	key = strings.TrimPrefix(path.Clean("/"+ref), "/")
	switch {
	case strings.TrimSpace(ref) == "" || key == "":
		err = ErrEmptyPath
	case strings.Split(ref, "/")[0] == ".." || strings.Contains(ref, "/../") || strings.HasSuffix(ref, "/.."):
		err = ErrPathEscapes
	default:
		for _, suffix := range reservedSuffixes {
			if strings.HasSuffix(key, suffix) {
				err = ErrReservedPath
				break
			}
		}
	}
	if err != nil {
		key = ""
	}
	return
}

// SidecarPath returns the path of the sidecar file of filePath with the given
// suffix, for example "a/b.bin" and "info" give "a/b.bin.info".
func SidecarPath(filePath, suffix string) (sidecar string, err error) {
	if filePath == "" {
		err = ErrEmptyPath
		return
	}
	sidecar = filePath + "." + suffix
	return
}
