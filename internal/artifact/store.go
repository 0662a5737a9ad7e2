// Package artifact names generated documents and stores them on disk.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/a3tai/mcp-form-pdf/internal/security"
)

// Policy decides what happens when two documents for the same user and form
// are generated within the same second.
type Policy string

const (
	// PolicySuffix keeps both documents by appending _2, _3, ... to the name.
	PolicySuffix Policy = "suffix"
	// PolicyOverwrite replaces the earlier document (last writer wins).
	PolicyOverwrite Policy = "overwrite"

	Extension       = ".pdf"
	timestampLayout = "20060102_150405"
	maxSuffix       = 1000
	filePerm        = 0o644
)

// ErrNotFound is returned for an unknown artifact filename.
var ErrNotFound = errors.New("artifact not found")

// Info describes a stored artifact.
type Info struct {
	Name     string
	Path     string
	Size     int64
	Modified time.Time
}

// Store writes artifacts into a single directory.
type Store struct {
	dir       string
	policy    Policy
	validator *security.PathValidator
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the timestamp used in filenames.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, policy Policy, opts ...Option) (*Store, error) {
	if policy != PolicySuffix && policy != PolicyOverwrite {
		return nil, fmt.Errorf("unknown collision policy %q", policy)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("cannot create artifact directory %s: %w", dir, err)
	}
	validator, err := security.NewPathValidator(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:       validator.GetConfiguredDirectory(),
		policy:    policy,
		validator: validator,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name builds the storage filename {userID}_{formID}_{YYYYMMDD_HHMMSS}.pdf.
// Two calls for the same user and form are only distinct when at least one
// second apart.
func Name(userID, formID string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s", userID, formID, t.Format(timestampLayout), Extension)
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data and returns the filename it was stored under.
func (s *Store) Save(data []byte, userID, formID string) (string, error) {
	if err := security.ValidateName(userID); err != nil {
		return "", fmt.Errorf("invalid user id: %w", err)
	}
	if err := security.ValidateName(formID); err != nil {
		return "", fmt.Errorf("invalid form id: %w", err)
	}

	name := Name(userID, formID, s.now())
	if s.policy == PolicyOverwrite {
		if err := s.replace(name, data); err != nil {
			return "", err
		}
		return name, nil
	}
	return s.createUnique(name, data)
}

// createUnique creates name, or the first free name_N variant, exclusively.
func (s *Store) createUnique(name string, data []byte) (string, error) {
	base := strings.TrimSuffix(name, Extension)
	for n := 1; n <= maxSuffix; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s_%d%s", base, n, Extension)
		}

		f, err := os.OpenFile(filepath.Join(s.dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("cannot create artifact: %w", err)
		}

		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(f.Name())
			return "", fmt.Errorf("cannot write artifact: %w", errors.Join(werr, cerr))
		}
		return candidate, nil
	}
	return "", fmt.Errorf("too many artifacts named %s", name)
}

// replace atomically replaces name with data.
func (s *Store) replace(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot write artifact: %w", err)
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return fmt.Errorf("cannot set artifact permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("cannot store artifact: %w", err)
	}
	return nil
}

// Path resolves filename to an absolute path inside the store.
func (s *Store) Path(filename string) (string, error) {
	if err := security.ValidateName(filename); err != nil {
		return "", err
	}
	path, err := s.validator.NormalizePath(filename)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return "", fmt.Errorf("cannot access artifact: %w", err)
	}
	return path, nil
}

// Read returns the content of a stored artifact.
func (s *Store) Read(filename string) ([]byte, error) {
	path, err := s.Path(filename)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// List returns stored artifacts whose name starts with prefix, newest first.
func (s *Store) List(prefix string) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read artifact directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(strings.ToLower(name), Extension) {
			continue
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:     name,
			Path:     filepath.Join(s.dir, name),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name > infos[j].Name
		}
		return infos[i].Modified.After(infos[j].Modified)
	})
	return infos, nil
}
