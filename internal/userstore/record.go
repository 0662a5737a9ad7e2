// Package userstore persists user records and the documents generated for
// them.
//
// Records are kept as raw documents: fields the service does not know about
// survive every read-modify-write cycle untouched.
package userstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Doc is a raw user record as stored.
type Doc map[string]any

// Backend holds the user collection. Update must apply fn to the current
// stored version of one record and persist it atomically with respect to
// other Backend calls.
type Backend interface {
	Get(ctx context.Context, id string) (Doc, error)
	Update(ctx context.Context, id string, fn func(Doc) error) error
	Insert(ctx context.Context, id string, doc Doc) error
	All(ctx context.Context) ([]Doc, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Keys names the record fields the service reads and writes.
type Keys struct {
	ID        string
	Password  string
	Artifacts string
	Role      string
	Name      string
	DOB       string
	Address   string
	Photo     string
	Signature string
}

// DefaultKeys matches the users.json layout of the web application.
func DefaultKeys() Keys {
	return Keys{
		ID:        "username",
		Password:  "password",
		Artifacts: "pdfs",
		Role:      "role",
		Name:      "name",
		DOB:       "dob",
		Address:   "address",
		Photo:     "photo",
		Signature: "signature",
	}
}

// User is a read-only view of a record.
type User struct {
	ID        string
	Name      string
	DOB       string
	Address   string
	Role      string
	Photo     string
	Signature string
	Artifacts []string
	// Fields holds the whole record except the password hash.
	Fields map[string]any
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (k Keys) view(doc Doc) *User {
	u := &User{
		ID:        str(doc[k.ID]),
		Name:      str(doc[k.Name]),
		DOB:       str(doc[k.DOB]),
		Address:   str(doc[k.Address]),
		Role:      str(doc[k.Role]),
		Photo:     str(doc[k.Photo]),
		Signature: str(doc[k.Signature]),
		Fields:    make(map[string]any, len(doc)),
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if list, ok := doc[k.Artifacts].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				u.Artifacts = append(u.Artifacts, s)
			}
		}
	}
	for key, v := range doc {
		if key != k.Password {
			u.Fields[key] = v
		}
	}
	return u
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func sortDocs(docs []Doc, idKey string) {
	sort.SliceStable(docs, func(i, j int) bool {
		return str(docs[i][idKey]) < str(docs[j][idKey])
	})
}

// decodeDoc decodes a JSON object keeping numbers as json.Number so they are
// written back exactly as read.
func decodeDoc(data []byte) (Doc, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Doc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid user record: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("invalid user record: not an object")
	}
	return doc, nil
}
