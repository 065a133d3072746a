// Package pathguard confines user-supplied file paths to a workspace root.
// It is purely lexical: no filesystem access, no symlink resolution. Both
// the daemon and the in-container bridge run the same check, so a path is
// validated before it ever crosses the control channel and again before it
// touches the container filesystem.
package pathguard

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrEscape means the path would resolve outside the workspace root.
	ErrEscape = errors.New("path escapes workspace root")
	// ErrInvalidPath means the path is empty or contains NUL bytes.
	ErrInvalidPath = errors.New("invalid path")
)

// Confine resolves userPath against base and returns the absolute in-container
// path. userPath is always treated as relative to base, even when it starts
// with a slash. The joined path is fully normalized (every "." and ".."
// resolved) before the containment check, so "a/../../etc/passwd" is rejected
// rather than partially cleaned. Paths use forward slashes regardless of the
// daemon's host OS; container paths are POSIX.
func Confine(base, userPath string) (string, error) {
	if userPath == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.ContainsRune(userPath, 0) {
		return "", fmt.Errorf("%w: NUL byte", ErrInvalidPath)
	}

	root := path.Clean("/" + strings.Trim(base, "/"))
	joined := path.Join(root, userPath)

	if joined != root && !strings.HasPrefix(joined, root+"/") {
		return "", fmt.Errorf("%w: %s", ErrEscape, userPath)
	}
	return joined, nil
}
