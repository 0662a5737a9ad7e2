// Package layout turns form fields into page drawing instructions.
//
// Rendering is pure: Render takes a field, its submitted value and the
// current vertical cursor, and returns the operation to draw plus the next
// cursor. All units are millimetres on an A4 page.
package layout

import (
	"path/filepath"

	"github.com/a3tai/mcp-form-pdf/internal/schema"
)

// Row and slot geometry.
const (
	LabelWidth = 60.0
	ValueWidth = 130.0
	RowHeight  = 10.0

	PhotoX       = 160.0
	PhotoY       = 20.0
	PhotoWidth   = 30.0
	PhotoHeight  = 30.0
	PhotoAdvance = 30.0

	SignatureX       = 150.0
	SignatureWidth   = 40.0
	SignatureHeight  = 15.0
	SignatureAdvance = 20.0
	SignatureCaption = "Signature"
)

// Value is what the caller submitted for one field: typed text for
// text/date fields, or the path of an already stored upload for file fields.
type Value struct {
	Text string
	Path string
}

// Cursor is the vertical drawing position.
type Cursor struct {
	Y float64
}

// Op is a drawing instruction. Exactly one of the concrete types below.
type Op interface {
	Field() string
}

// RowOp is a bordered label/value row at the cursor.
type RowOp struct {
	Name   string
	Y      float64
	Label  string
	Value  string
	LabelW float64
	ValueW float64
	H      float64
}

// ImageOp places an image at absolute coordinates. Caption, when set, is
// drawn right-aligned directly below the image.
type ImageOp struct {
	Name    string
	Path    string
	X, Y    float64
	W, H    float64
	Caption string
}

// SkipOp records a field that produced no output (file field without upload).
type SkipOp struct {
	Name   string
	Reason string
}

func (o RowOp) Field() string { return o.Name }
func (o ImageOp) Field() string { return o.Name }
func (o SkipOp) Field() string { return o.Name }

// Render lays out a single field.
func Render(field schema.FieldDef, value Value, cur Cursor) (Op, Cursor) {
	switch field.Kind {
	case schema.KindText, schema.KindDate:
		return row(field, value.Text, cur)
	case schema.KindFile:
		return renderFile(field, value, cur)
	default:
		return SkipOp{Name: field.Name, Reason: "unknown field kind"}, cur
	}
}

func renderFile(field schema.FieldDef, value Value, cur Cursor) (Op, Cursor) {
	switch field.Slot {
	case schema.SlotPhoto:
		if value.Path == "" {
			return SkipOp{Name: field.Name, Reason: "no photo uploaded"}, cur
		}
		// The photo sits in the top-right corner regardless of the cursor.
		return ImageOp{
			Name: field.Name,
			Path: value.Path,
			X:    PhotoX,
			Y:    PhotoY,
			W:    PhotoWidth,
			H:    PhotoHeight,
		}, Cursor{Y: cur.Y + PhotoAdvance}
	case schema.SlotSignature:
		if value.Path == "" {
			return SkipOp{Name: field.Name, Reason: "no signature uploaded"}, cur
		}
		return ImageOp{
			Name:    field.Name,
			Path:    value.Path,
			X:       SignatureX,
			Y:       cur.Y,
			W:       SignatureWidth,
			H:       SignatureHeight,
			Caption: SignatureCaption,
		}, Cursor{Y: cur.Y + SignatureAdvance}
	default:
		// Generic uploads have no reserved slot: cite the stored file name.
		name := ""
		if value.Path != "" {
			name = filepath.Base(value.Path)
		}
		return row(field, name, cur)
	}
}

func row(field schema.FieldDef, text string, cur Cursor) (Op, Cursor) {
	return RowOp{
		Name:   field.Name,
		Y:      cur.Y,
		Label:  field.Label,
		Value:  text,
		LabelW: LabelWidth,
		ValueW: ValueWidth,
		H:      RowHeight,
	}, Cursor{Y: cur.Y + RowHeight}
}

// Plan lays out every field of a form in declared order starting at start.
// Missing values are treated as empty.
func Plan(fields []schema.FieldDef, values map[string]Value, start Cursor) ([]Op, Cursor) {
	ops := make([]Op, 0, len(fields))
	cur := start
	for _, f := range fields {
		var op Op
		op, cur = Render(f, values[f.Name], cur)
		ops = append(ops, op)
	}
	return ops, cur
}
