// Package pathsafe validates untrusted path strings before they are
// used as filesystem locations. Every configuration-supplied path must
// pass through Validate before it touches the filesystem.
package pathsafe

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/TheMichaelB/memsteward/internal/models"
)

// Result reports the outcome of validating an untrusted path.
type Result struct {
	Valid          bool
	NormalizedPath string
	Err            error
}

// System directories configuration values may never point into.
var unixSystemDirs = []string{
	"/etc",
	"/sys",
	"/proc",
	"/dev",
	"/boot",
	"/bin",
	"/sbin",
	"/usr/bin",
	"/usr/sbin",
	"/var/run",
}

var windowsSystemDirs = []string{
	`C:\Windows`,
	`C:\Program Files`,
	`C:\Program Files (x86)`,
}

// Validate checks an untrusted path string and returns its normalized
// absolute form. It rejects traversal sequences, URL-encoded traversal,
// null bytes, and known system directories, and expands a leading
// home-directory shorthand.
//
// Encoded input is decoded exactly once before inspection; a
// double-URL-encoded traversal sequence (%252e%252e) therefore passes.
// This matches the tool's long-standing behavior and is kept
// deliberately until a stricter contract is adopted.
func Validate(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return reject(raw, "empty path")
	}

	if strings.ContainsRune(raw, 0) {
		return reject(raw, "contains null byte")
	}

	// Single decode pass catches %2e%2e and friends.
	decoded := raw
	if unescaped, err := url.PathUnescape(raw); err == nil {
		decoded = unescaped
	}

	if containsTraversal(raw) || containsTraversal(decoded) {
		return reject(raw, "contains traversal sequence")
	}

	expanded := decoded
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return reject(raw, "cannot resolve home directory")
		}
		expanded = filepath.Join(homeDir, strings.TrimPrefix(expanded, "~"))
	}

	normalized, err := filepath.Abs(filepath.Clean(expanded))
	if err != nil {
		return reject(raw, fmt.Sprintf("cannot normalize: %v", err))
	}

	if dir := matchSystemDir(normalized); dir != "" {
		return reject(raw, fmt.Sprintf("inside system directory %s", dir))
	}

	return Result{Valid: true, NormalizedPath: normalized}
}

// Sanitize is a convenience wrapper returning the normalized path or
// the rejection error.
func Sanitize(raw string) (string, error) {
	res := Validate(raw)
	if !res.Valid {
		return "", res.Err
	}
	return res.NormalizedPath, nil
}

func reject(raw, reason string) Result {
	return Result{Err: &models.PathError{Raw: raw, Reason: reason}}
}

func containsTraversal(path string) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

func matchSystemDir(normalized string) string {
	dirs := unixSystemDirs
	if runtime.GOOS == "windows" {
		dirs = windowsSystemDirs
	}

	for _, dir := range dirs {
		if normalized == dir || strings.HasPrefix(normalized, dir+string(filepath.Separator)) {
			return dir
		}
	}

	return ""
}
