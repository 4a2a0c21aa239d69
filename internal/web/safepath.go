package web

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// SafePath maps a URL path onto a file below the document root. The URL path
// is always taken relative to root, so "/a/b" and "a/b" resolve alike. It
// returns an error when the result would escape root.
func SafePath(root, urlPath string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid document root: %w", err)
	}

	if strings.Contains(urlPath, "\x00") {
		return "", fmt.Errorf("path %q contains NUL", urlPath)
	}
	// Reject traversal before cleaning; path.Clean would otherwise fold
	// "/../x" into "/x" and hide it.
	for _, seg := range strings.Split(filepath.ToSlash(urlPath), "/") {
		if seg == ".." {
			return "", fmt.Errorf("path %q escapes document root %q", urlPath, absRoot)
		}
	}

	rel := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	resolved := filepath.Join(absRoot, filepath.FromSlash(rel))
	if !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) && resolved != absRoot {
		return "", fmt.Errorf("path %q escapes document root %q", urlPath, absRoot)
	}
	return resolved, nil
}
