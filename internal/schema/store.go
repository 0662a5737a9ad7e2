package schema

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store holds the loaded form schemas. It is read-only after loading and
// safe for concurrent use.
type Store struct {
	schemas map[string]FormSchema
}

type fieldFile struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label" yaml:"label"`
	Type  string `json:"type" yaml:"type"`
}

type formFile struct {
	Title  string      `json:"title" yaml:"title"`
	Fields []fieldFile `json:"fields" yaml:"fields"`
}

// LoadFile reads a single JSON or YAML schema file.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	store := &Store{schemas: make(map[string]FormSchema)}
	if err := store.add(data, path); err != nil {
		return nil, err
	}
	return store, nil
}

// LoadPath loads path with LoadFile, or with LoadFS when path is a
// directory. A directory without any schema file is an error.
func LoadPath(path string) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if !info.IsDir() {
		return LoadFile(path)
	}
	store, err := LoadFS(os.DirFS(path))
	if err != nil {
		return nil, err
	}
	if store.Len() == 0 {
		return nil, fmt.Errorf("schema: no form schemas in %s", path)
	}
	return store, nil
}

// LoadFS walks fsys and merges every .json/.yaml/.yml file into one store.
// Form ids must be unique across files.
func LoadFS(fsys fs.FS) (*Store, error) {
	store := &Store{schemas: make(map[string]FormSchema)}
	if fsys == nil {
		return store, nil
	}

	err := fs.WalkDir(fsys, ".", func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !isSchemaFile(path) {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("schema: read %s: %w", path, err)
		}
		return store.add(data, path)
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Load builds a store from already-parsed schemas.
func Load(schemas ...FormSchema) (*Store, error) {
	store := &Store{schemas: make(map[string]FormSchema, len(schemas))}
	for _, s := range schemas {
		if strings.TrimSpace(s.ID) == "" {
			return nil, fmt.Errorf("schema: empty form id")
		}
		if _, exists := store.schemas[s.ID]; exists {
			return nil, fmt.Errorf("schema: duplicate form %q", s.ID)
		}
		seen := make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			if f.Name == "" || f.Kind < KindText || f.Kind > KindFile {
				return nil, fmt.Errorf("schema: form %q: invalid field %q", s.ID, f.Name)
			}
			if seen[f.Name] {
				return nil, fmt.Errorf("schema: form %q: duplicate field %q", s.ID, f.Name)
			}
			seen[f.Name] = true
		}
		store.schemas[s.ID] = s.clone()
	}
	return store, nil
}

// Get returns the schema for formID or ErrSchemaNotFound.
func (s *Store) Get(formID string) (FormSchema, error) {
	if s != nil {
		if schema, ok := s.schemas[formID]; ok {
			return schema.clone(), nil
		}
	}
	return FormSchema{}, fmt.Errorf("%w: %s", ErrSchemaNotFound, formID)
}

// List returns every schema ordered by form id.
func (s *Store) List() []FormSchema {
	if s == nil {
		return nil
	}
	out := make([]FormSchema, 0, len(s.schemas))
	for _, schema := range s.schemas {
		out = append(out, schema.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports how many forms are loaded.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.schemas)
}

func (s *Store) add(data []byte, source string) error {
	doc, err := parseDocument(data, source)
	if err != nil {
		return err
	}

	for rawID, raw := range doc {
		id := strings.TrimSpace(rawID)
		if id == "" {
			return fmt.Errorf("schema: file %s defines an empty form id", source)
		}
		if _, exists := s.schemas[id]; exists {
			return fmt.Errorf("schema: duplicate form %q (file %s)", id, source)
		}

		form := FormSchema{ID: id, Title: raw.Title, Fields: make([]FieldDef, 0, len(raw.Fields))}
		seen := make(map[string]bool, len(raw.Fields))
		for i, rf := range raw.Fields {
			f, err := parseField(rf.Name, rf.Label, rf.Type)
			if err != nil {
				return fmt.Errorf("schema: form %q field %d (file %s): %w", id, i, source, err)
			}
			if seen[f.Name] {
				return fmt.Errorf("schema: form %q: duplicate field %q (file %s)", id, f.Name, source)
			}
			seen[f.Name] = true
			form.Fields = append(form.Fields, f)
		}
		s.schemas[id] = form
	}
	return nil
}

func parseDocument(data []byte, source string) (map[string]formFile, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("schema: file %s is empty", source)
	}

	var doc map[string]formFile
	if err := json.Unmarshal(data, &doc); err == nil {
		return doc, nil
	}
	doc = nil
	if err := yaml.Unmarshal(data, &doc); err == nil {
		return doc, nil
	}
	return nil, fmt.Errorf("schema: parse %s: invalid JSON or YAML", source)
}

func isSchemaFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}
