// Package schema loads the form definitions that drive document generation.
//
// A schema file maps a form id to its title and ordered field list:
//
//	{
//	  "general": {
//	    "title": "General Application",
//	    "fields": [
//	      {"name": "full_name", "label": "Full Name", "type": "text"},
//	      {"name": "photo", "label": "Photo", "type": "file"}
//	    ]
//	  }
//	}
//
// Field types are resolved into a closed Kind (and, for files, a Slot) when
// the file is loaded, so rendering never compares type strings.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaNotFound is returned when a form id has no schema.
var ErrSchemaNotFound = errors.New("form schema not found")

// Kind is the render behavior of a field.
type Kind int

const (
	KindText Kind = iota + 1
	KindDate
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Slot selects the placement of a file field. Only photo and signature have
// reserved positions; every other file field is generic.
type Slot int

const (
	SlotNone Slot = iota
	SlotPhoto
	SlotSignature
	SlotGeneric
)

func (s Slot) String() string {
	switch s {
	case SlotPhoto:
		return "photo"
	case SlotSignature:
		return "signature"
	case SlotGeneric:
		return "generic"
	default:
		return "none"
	}
}

// FieldDef is one field of a form.
type FieldDef struct {
	Name  string
	Label string
	Kind  Kind
	Slot  Slot // SlotNone unless Kind is KindFile
}

// FormSchema is an immutable form definition.
type FormSchema struct {
	ID     string
	Title  string
	Fields []FieldDef
}

// FileFields returns the names of the file-kind fields in declared order.
func (s FormSchema) FileFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Kind == KindFile {
			names = append(names, f.Name)
		}
	}
	return names
}

func (s FormSchema) clone() FormSchema {
	s.Fields = append([]FieldDef(nil), s.Fields...)
	return s
}

// parseField resolves a raw field entry into its typed form.
func parseField(name, label, typ string) (FieldDef, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FieldDef{}, errors.New("field name cannot be empty")
	}

	f := FieldDef{Name: name, Label: label}
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "text":
		f.Kind = KindText
	case "date":
		f.Kind = KindDate
	case "file":
		f.Kind = KindFile
		switch name {
		case "photo":
			f.Slot = SlotPhoto
		case "signature":
			f.Slot = SlotSignature
		default:
			f.Slot = SlotGeneric
		}
	default:
		return FieldDef{}, fmt.Errorf("field %q has unsupported type %q", name, typ)
	}
	return f, nil
}

// Text returns a text field definition.
func Text(name, label string) FieldDef {
	return FieldDef{Name: name, Label: label, Kind: KindText}
}

// Date returns a date field definition.
func Date(name, label string) FieldDef {
	return FieldDef{Name: name, Label: label, Kind: KindDate}
}

// File returns a file field definition with its slot resolved from name.
func File(name, label string) FieldDef {
	f, _ := parseField(name, label, "file")
	return f
}
