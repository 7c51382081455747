// Package fileset collects the Python files an invocation operates on.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// skipDirs are directory names that never contain project sources.
var skipDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	"venv":         true,
	"env":          true,
	".git":         true,
	".tox":         true,
	"build":        true,
	"dist":         true,
}

// Collect finds Python files under the given paths, descending into
// subdirectories only when recursive is set, filtered by doublestar
// include/exclude patterns.
func Collect(paths []string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var files []string

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("path not found: %s: %w", path, err)
		}

		if !info.IsDir() {
			if IsPythonFile(path) && includeFile(path, includePatterns, excludePatterns) {
				files = append(files, path)
			}
			continue
		}

		err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if fi.IsDir() {
				if p != path && !recursive {
					return filepath.SkipDir
				}
				if strings.HasPrefix(fi.Name(), ".") && p != path {
					return filepath.SkipDir
				}
				if skipDirs[fi.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(fi.Name(), ".") {
				return nil
			}
			if IsPythonFile(p) && includeFile(p, includePatterns, excludePatterns) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", path, err)
		}
	}

	return files, nil
}

// IsPythonFile reports whether path names a Python source file.
func IsPythonFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".py" || ext == ".pyi"
}

func includeFile(path string, includePatterns, excludePatterns []string) bool {
	norm := filepath.ToSlash(path)

	for _, pattern := range excludePatterns {
		if ok, _ := doublestar.Match(pattern, norm); ok {
			return false
		}
		if ok, _ := doublestar.Match(pattern, filepath.Base(path)); ok {
			return false
		}
	}

	if len(includePatterns) == 0 {
		return true
	}
	for _, pattern := range includePatterns {
		if ok, _ := doublestar.Match(pattern, norm); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}
