package ingest

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/statement-pipeline/constants"
)

// AllowedExt reports whether ext (with or without the dot, any case) is a statement format.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden reports whether the last element of path is a dotfile or dot-directory.
func IsHidden(path string) bool {
	base := filepath.Base(path)
	if base == "." || base == ".." {
		return false
	}
	return strings.HasPrefix(base, ".")
}

// isStatementFile is true for regular entries with a supported extension.
func isStatementFile(path string, d fs.DirEntry) bool {
	return d != nil && !d.IsDir() && AllowedExt(filepath.Ext(path))
}

// walkTree walks root like filepath.WalkDir. With skipHidden, hidden entries below
// root are pruned before visit sees them; walk errors are always passed through.
func walkTree(root string, skipHidden bool, visit fs.WalkDirFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return visit(path, d, err)
	})
}
