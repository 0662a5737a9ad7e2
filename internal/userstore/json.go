package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	usersKey   = "users"
	lockSuffix = ".lock"
	lockRetry  = 10 * time.Millisecond
)

// JSONStore keeps the collection in a single {"users": [...]} file.
//
// Every call reads the file fresh, so edits made by other tools between calls
// are picked up. Mutations hold an advisory lock on a sidecar "<file>.lock",
// shared with other processes such as form-users, and are written to a temp
// file that is renamed over the original.
type JSONStore struct {
	path    string
	idField string
	mu      sync.Mutex
}

// NewJSONStore opens path, creating an empty collection if it does not exist.
func NewJSONStore(path, idField string) (*JSONStore, error) {
	if idField == "" {
		return nil, fmt.Errorf("id field cannot be empty")
	}
	s := &JSONStore{path: path, idField: idField}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, &PersistError{Op: "create", Err: err}
		}
		if err := s.create(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, &PersistError{Op: "open", Err: err}
	}

	if _, _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) create() error {
	unlock, err := s.lock(context.Background())
	if err != nil {
		return err
	}
	defer unlock()

	// Another process may have created it while we waited.
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	return s.write(map[string]json.RawMessage{}, nil)
}

// lock serializes mutations within the process and, through the sidecar
// lock file, with other processes. It waits until the lock is free or ctx
// is done.
func (s *JSONStore) lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	f, err := os.OpenFile(s.path+lockSuffix, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		s.mu.Unlock()
		return nil, &PersistError{Op: "lock", Err: err}
	}
	release := func() {
		_ = f.Close()
		s.mu.Unlock()
	}

	for {
		ok, err := tryLockFile(f)
		if err != nil {
			release()
			return nil, &PersistError{Op: "lock", Err: err}
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}

	return func() {
		_ = unlockFile(f)
		release()
	}, nil
}

// Path returns the collection file.
func (s *JSONStore) Path() string {
	return s.path
}

func (s *JSONStore) Get(ctx context.Context, id string) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, users, err := s.read()
	if err != nil {
		return nil, err
	}
	i := s.index(users, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return users[i], nil
}

func (s *JSONStore) Update(ctx context.Context, id string, fn func(Doc) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	top, users, err := s.read()
	if err != nil {
		return err
	}
	i := s.index(users, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err := fn(users[i]); err != nil {
		return err
	}
	return s.write(top, users)
}

func (s *JSONStore) Insert(ctx context.Context, id string, doc Doc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	top, users, err := s.read()
	if err != nil {
		return err
	}
	if s.index(users, id) >= 0 {
		return fmt.Errorf("%w: %s", ErrUserExists, id)
	}
	return s.write(top, append(users, doc))
}

func (s *JSONStore) All(ctx context.Context) ([]Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, users, err := s.read()
	return users, err
}

func (s *JSONStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	top, users, err := s.read()
	if err != nil {
		return err
	}
	i := s.index(users, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return s.write(top, append(users[:i], users[i+1:]...))
}

func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) index(users []Doc, id string) int {
	for i, u := range users {
		if str(u[s.idField]) == id {
			return i
		}
	}
	return -1
}

// read returns the top-level object (so sibling keys of "users" survive) and
// the decoded user list.
func (s *JSONStore) read() (map[string]json.RawMessage, []Doc, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, &PersistError{Op: "read", Err: err}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("invalid user collection %s: %w", s.path, err)
	}
	if top == nil {
		top = map[string]json.RawMessage{}
	}

	var raw []json.RawMessage
	if usersRaw, ok := top[usersKey]; ok {
		if err := json.Unmarshal(usersRaw, &raw); err != nil {
			return nil, nil, fmt.Errorf("invalid %q list in %s: %w", usersKey, s.path, err)
		}
	}

	users := make([]Doc, 0, len(raw))
	for i, r := range raw {
		doc, err := decodeDoc(r)
		if err != nil {
			return nil, nil, fmt.Errorf("user %d in %s: %w", i, s.path, err)
		}
		users = append(users, doc)
	}
	return top, users, nil
}

func (s *JSONStore) write(top map[string]json.RawMessage, users []Doc) error {
	if users == nil {
		users = []Doc{}
	}
	list, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("cannot encode users: %w", err)
	}
	top[usersKey] = list

	data, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode user collection: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return &PersistError{Op: "write", Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PersistError{Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &PersistError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistError{Op: "write", Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return &PersistError{Op: "write", Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return &PersistError{Op: "write", Err: err}
	}
	return nil
}
