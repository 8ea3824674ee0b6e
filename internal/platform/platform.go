// Package platform holds the few host queries pkgdeliver makes. They are
// only consulted at the command-line boundary; everything below it receives
// the answers explicitly through the image context.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Current returns the runtime.GOOS value ("darwin", "linux", …).
func Current() string {
	return runtime.GOOS
}

// ExpandPath expands a leading "~/" and environment variables in path.
func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// IsAdmin reports whether the process has administrative privilege over
// file ownership.
func IsAdmin() bool {
	if runtime.GOOS == "windows" {
		return false
	}
	return os.Geteuid() == 0
}

// UnderRoot resolves p against an image root. Absolute paths are used
// verbatim; relative paths are placed under root.
func UnderRoot(root, p string) string {
	if p == "" {
		return ""
	}
	p = ExpandPath(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}
