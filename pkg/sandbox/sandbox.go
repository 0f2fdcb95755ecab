// Package sandbox confines filesystem locators to an allowed root.
//
// Every locator is made absolute, cleaned and symlink-resolved before it is
// compared against the root, and the comparison is done on whole path
// elements so that a root of /srv never admits /srv-evil.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
)

// Sandbox resolves locators against a fixed root. It holds no mutable state
// and is safe for concurrent use.
type Sandbox struct {
	root string
}

// New creates a sandbox rooted at root. The root must exist and be a
// directory; it is itself resolved through any symlinks.
func New(root string) (*Sandbox, error) {
	if root == "" {
		return nil, fmt.Errorf("sandbox root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", real)
	}
	return &Sandbox{root: real}, nil
}

// Root returns the resolved root directory
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve returns the real absolute path of locator, or a SandboxViolation
// if that path lies outside the root. Relative locators are taken relative
// to the root. The target does not need to exist; the deepest existing
// ancestor is resolved and the remainder appended.
func (s *Sandbox) Resolve(locator string) (string, error) {
	if strings.ContainsRune(locator, 0) {
		return "", mcperrors.SandboxViolation(locator, s.root, "locator contains a NUL byte")
	}

	candidate := locator
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	real, err := resolveExisting(candidate)
	if err != nil {
		return "", mcperrors.SandboxViolation(locator, s.root, err.Error())
	}

	if !s.contains(real) {
		return "", mcperrors.SandboxViolation(locator, s.root, "resolves outside the permitted root").
			WithDetail("resolved to " + real)
	}
	return real, nil
}

// Rel returns the root-relative, slash-separated form of a resolved path
func (s *Sandbox) Rel(resolved string) (string, error) {
	if !s.contains(resolved) {
		return "", mcperrors.SandboxViolation(resolved, s.root, "resolves outside the permitted root")
	}
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// contains checks membership on a separator boundary
func (s *Sandbox) contains(path string) bool {
	if path == s.root {
		return true
	}
	prefix := s.root
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return strings.HasPrefix(path, prefix)
}

// maxLinkHops bounds how many dangling symlinks resolveExisting follows
const maxLinkHops = 40

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-attaches the missing tail. A missing component that is itself a
// dangling symlink is replaced by its target, so the result is where a
// later create would actually land.
func resolveExisting(path string) (string, error) {
	var tail []string
	current := path
	hops := 0
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			if hops++; hops > maxLinkHops {
				return "", fmt.Errorf("too many levels of symbolic links at %s", current)
			}
			target, err := linkTarget(current)
			if err != nil {
				return "", err
			}
			current = target
			continue
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

// linkTarget reads the symlink at path. Relative targets are taken from the
// link's real directory.
func linkTarget(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target), nil
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, target), nil
}
