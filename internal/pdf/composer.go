package pdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"

	"github.com/a3tai/mcp-form-pdf/internal/pdf/layout"
	"github.com/a3tai/mcp-form-pdf/internal/schema"
)

// Page metrics, in millimetres.
const (
	PageWidth    = 210.0
	PageHeight   = 297.0
	Margin       = 10.0
	TitleHeight  = 10.0
	SectionGap   = 10.0
	FooterHeight = 10.0

	fontFamily    = "Helvetica"
	unicodeFamily = "FormUnicode"
	titleFontSize = 14
	bodyFontSize  = 12
	captionHeight = 5.0

	dateLayout = "02-01-2006"
)

// Document is a composed PDF.
type Document struct {
	Data        []byte
	Serial      string
	GeneratedAt time.Time
	Footer      string
	Ops         []layout.Op
	// Overflowed is set when content ran past the printable area of the
	// single page. Nothing is truncated: the overflowing content is drawn
	// below the bottom margin and will be clipped by viewers.
	Overflowed bool
	// Unrenderable lists the fields, plus TitleField for the form title,
	// whose text holds characters the document font has no glyph for.
	// Those characters are drawn as placeholders.
	Unrenderable []string
}

// TitleField names the form title in Document.Unrenderable.
const TitleField = "(title)"

// Composer builds single-page form documents. It holds no per-call state
// and is safe for concurrent use.
type Composer struct {
	maxImageSize int64
	now          func() time.Time
	serial       func() string
	logger       *slog.Logger
	font         *Font
}

// ComposerOption customizes a Composer.
type ComposerOption func(*Composer)

// WithClock overrides the generation timestamp source.
func WithClock(now func() time.Time) ComposerOption {
	return func(c *Composer) { c.now = now }
}

// WithSerial overrides the serial number generator.
func WithSerial(serial func() string) ComposerOption {
	return func(c *Composer) { c.serial = serial }
}

// WithLogger sets the logger used for overflow and skip notices.
func WithLogger(logger *slog.Logger) ComposerOption {
	return func(c *Composer) { c.logger = logger }
}

// WithFont draws all text with font instead of the built-in Helvetica.
func WithFont(font *Font) ComposerOption {
	return func(c *Composer) { c.font = font }
}

// NewComposer creates a composer that refuses images above maxImageSize bytes.
func NewComposer(maxImageSize int64, opts ...ComposerOption) *Composer {
	c := &Composer{
		maxImageSize: maxImageSize,
		now:          time.Now,
		serial:       NewSerial,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSerial returns a fresh 8 hex character receipt number.
func NewSerial() string {
	return uuid.NewString()[:8]
}

// FooterText formats the footer line stamped on every document.
func FooterText(at time.Time, serial string) string {
	return fmt.Sprintf("Date: %s   Serial No: %s", at.Format(dateLayout), serial)
}

// Compose renders form with the submitted values. Any unreadable image
// aborts the whole document with a *RenderError.
func (c *Composer) Compose(ctx context.Context, form schema.FormSchema, values map[string]layout.Value) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	generatedAt := c.now()
	serial := c.serial()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCatalogSort(true)
	doc.SetCreationDate(generatedAt)
	doc.SetModificationDate(generatedAt)
	doc.SetTitle(form.Title, true)
	doc.SetCreator("mcp-form-pdf", true)
	doc.SetMargins(Margin, Margin, Margin)
	doc.SetAutoPageBreak(false, 0)

	family := fontFamily
	tr := doc.UnicodeTranslatorFromDescriptor("")
	var cv coverage = cp1252Coverage{}
	if c.font != nil {
		doc.AddUTF8FontFromBytes(unicodeFamily, "", c.font.regular)
		doc.AddUTF8FontFromBytes(unicodeFamily, "B", c.font.bold)
		family = unicodeFamily
		tr = func(s string) string { return s }
		cv = fontCoverage{font: c.font.glyphs}
	}

	missing := make(map[string][]rune)
	check := func(field string, texts ...string) {
		for _, text := range texts {
			missing[field] = append(missing[field], missingRunes(cv, text)...)
		}
		if len(missing[field]) == 0 {
			delete(missing, field)
		}
	}

	doc.AddPage()

	check(TitleField, form.Title)
	doc.SetFont(family, "B", titleFontSize)
	doc.CellFormat(0, TitleHeight, tr(form.Title), "", 1, "C", false, 0, "")
	doc.Ln(SectionGap)
	doc.SetFont(family, "", bodyFontSize)

	ops, end := layout.Plan(form.Fields, values, layout.Cursor{Y: doc.GetY()})

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch o := op.(type) {
		case layout.RowOp:
			check(o.Name, o.Label, o.Value)
			doc.SetXY(Margin, o.Y)
			doc.CellFormat(o.LabelW, o.H, tr(o.Label), "1", 0, "L", false, 0, "")
			doc.CellFormat(o.ValueW, o.H, tr(o.Value), "1", 1, "L", false, 0, "")
		case layout.ImageOp:
			check(o.Name, o.Caption)
			if err := c.placeImage(doc, o, tr); err != nil {
				return nil, err
			}
		case layout.SkipOp:
			c.logger.Debug("field skipped", slog.String("form", form.ID),
				slog.String("field", o.Name), slog.String("reason", o.Reason))
		}
		if doc.Err() {
			return nil, &RenderError{Field: op.Field(), Err: doc.Error()}
		}
	}

	footer := FooterText(generatedAt, serial)
	footerY := end.Y + SectionGap
	doc.SetXY(Margin, footerY)
	doc.CellFormat(0, FooterHeight, footer, "", 1, "C", false, 0, "")

	overflowed := footerY+FooterHeight > PageHeight-Margin
	if overflowed {
		c.logger.Warn("document content exceeds the page",
			slog.String("form", form.ID),
			slog.Float64("bottom_mm", footerY+FooterHeight),
			slog.Float64("limit_mm", PageHeight-Margin))
	}

	unrenderable := c.reportMissing(form.ID, missing)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}

	return &Document{
		Data:         buf.Bytes(),
		Serial:       serial,
		GeneratedAt:  generatedAt,
		Footer:       footer,
		Ops:          ops,
		Overflowed:   overflowed,
		Unrenderable: unrenderable,
	}, nil
}

// reportMissing logs characters the font cannot draw and returns the
// affected fields in order.
func (c *Composer) reportMissing(formID string, missing map[string][]rune) []string {
	if len(missing) == 0 {
		return nil
	}
	fields := make([]string, 0, len(missing))
	var chars strings.Builder
	for field, runes := range missing {
		fields = append(fields, field)
		chars.WriteString(string(runes))
	}
	sort.Strings(fields)
	c.logger.Warn("text contains characters the document font cannot draw",
		slog.String("form", formID),
		slog.Any("fields", fields),
		slog.String("chars", chars.String()))
	return fields
}

func (c *Composer) placeImage(doc *fpdf.Fpdf, op layout.ImageOp, tr func(string) string) error {
	data, err := c.readImage(op.Path)
	if err != nil {
		return &RenderError{Field: op.Name, Path: op.Path, Err: err}
	}

	imageType, err := detectImageType(data)
	if err != nil {
		return &RenderError{Field: op.Name, Path: op.Path, Err: err}
	}

	opts := fpdf.ImageOptions{ImageType: imageType, ReadDpi: true}
	name := "field:" + op.Name
	doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if doc.Err() {
		return &RenderError{Field: op.Name, Path: op.Path, Err: doc.Error()}
	}
	doc.ImageOptions(name, op.X, op.Y, op.W, op.H, false, opts, 0, "")

	if op.Caption != "" {
		doc.SetXY(op.X, op.Y+op.H)
		doc.CellFormat(op.W, captionHeight, tr(op.Caption), "", 0, "R", false, 0, "")
	}
	return nil
}

func (c *Composer) readImage(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("image path is a directory: %s", path)
	}
	if c.maxImageSize > 0 && info.Size() > c.maxImageSize {
		return nil, fmt.Errorf("image too large: %d bytes (max: %d bytes)", info.Size(), c.maxImageSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read image: %w", err)
	}
	return data, nil
}

// detectImageType sniffs the upload instead of trusting its extension;
// stored uploads carry the client's original file name.
func detectImageType(data []byte) (string, error) {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "JPG", nil
	case "image/png":
		return "PNG", nil
	case "image/gif":
		return "GIF", nil
	default:
		return "", fmt.Errorf("unsupported image format")
	}
}
