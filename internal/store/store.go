// Package store manages the on-disk session directories: one browser
// profile directory named session-<id> per session under a common root.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/logging"
)

// DirPrefix prefixes every session directory name.
const DirPrefix = "session-"

// BrowserLockName is the profile lock Chromium leaves behind after a crash.
const BrowserLockName = "SingletonLock"

var sessionDirGlob = glob.MustCompile(DirPrefix + "?*")

// Entry describes one session directory.
type Entry struct {
	ID       string    `json:"id"`
	Dir      string    `json:"dir"`
	Modified time.Time `json:"modified"`
}

// Store is the session directory root.
type Store struct {
	root   string
	logger *logging.Logger
}

// New returns a Store rooted at root. The root is made absolute so later
// containment checks do not depend on the working directory.
func New(root string, logger *logging.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sessions root: %w", err)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{root: abs, logger: logger.WithComponent("store")}, nil
}

// Root returns the absolute sessions root.
func (s *Store) Root() string { return s.root }

// EnsureRoot creates the root if needed.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create sessions root: %w", err)
	}
	return nil
}

// Dir returns the directory for session id. It does not check that id is a
// valid identity; Remove does its own containment check.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, DirPrefix+id)
}

// List returns the identities of all session directories, sorted. A missing
// root yields no identities.
func (s *Store) List() ([]string, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

// Entries returns all session directories, sorted by identity.
func (s *Store) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions root: %w", err)
	}

	var out []Entry
	for _, d := range dirents {
		if !d.IsDir() || !sessionDirGlob.Match(d.Name()) {
			continue
		}
		e := Entry{
			ID:  strings.TrimPrefix(d.Name(), DirPrefix),
			Dir: filepath.Join(s.root, d.Name()),
		}
		if info, err := d.Info(); err == nil {
			e.Modified = info.ModTime()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Exists reports whether the directory for id exists.
func (s *Store) Exists(id string) bool {
	info, err := os.Stat(s.Dir(id))
	return err == nil && info.IsDir()
}

// Remove deletes the directory for id. The lexical path must be a direct
// child of the root named session-<id>, and after resolving symlinks the
// target must still lie strictly inside the resolved root; otherwise a
// PathTraversalError is returned and nothing is deleted. A missing
// directory is not an error.
func (s *Store) Remove(id string) error {
	target := filepath.Clean(filepath.Join(s.root, DirPrefix+id))
	if id == "" || filepath.Dir(target) != s.root || filepath.Base(target) != DirPrefix+id {
		return errors.NewPathTraversalError(id, target, s.root)
	}

	if _, err := os.Lstat(target); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat session directory: %w", err)
	}

	realRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return fmt.Errorf("resolve sessions root: %w", err)
	}
	realTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		if os.IsNotExist(err) {
			// dangling link: the link itself lives inside the root
			return os.Remove(target)
		}
		return fmt.Errorf("resolve session directory: %w", err)
	}
	if !within(realRoot, realTarget) {
		s.logger.Error("refusing to delete session directory outside root",
			"session_id", id, "resolved", realTarget, "root", realRoot)
		return errors.NewPathTraversalError(id, realTarget, realRoot)
	}

	if err := os.RemoveAll(realTarget); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	if realTarget != target {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove session link: %w", err)
		}
	}
	s.logger.Info("session directory removed", "session_id", id)
	return nil
}

// within reports whether p is strictly below root.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ReleaseBrowserLock removes a stale browser profile lock from the session
// directory so a new browser can open it.
func (s *Store) ReleaseBrowserLock(id string) error {
	path := filepath.Join(s.Dir(id), BrowserLockName)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove browser lock: %w", err)
	}
	s.logger.Debug("browser lock released", "session_id", id)
	return nil
}
