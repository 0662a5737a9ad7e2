package pdf

import (
	"fmt"
	"os"
	"unicode"

	"golang.org/x/image/font/sfnt"
	"golang.org/x/text/encoding/charmap"
)

// Font is a TrueType font used for all document text in place of the
// built-in Helvetica, which only covers cp1252.
type Font struct {
	regular []byte
	bold    []byte
	glyphs  *sfnt.Font
}

// LoadFont parses a TrueType font. bold may be nil, in which case the
// regular face is used for the title too.
func LoadFont(regular, bold []byte) (*Font, error) {
	glyphs, err := sfnt.Parse(regular)
	if err != nil {
		return nil, fmt.Errorf("invalid font: %w", err)
	}
	if bold == nil {
		bold = regular
	} else if _, err := sfnt.Parse(bold); err != nil {
		return nil, fmt.Errorf("invalid bold font: %w", err)
	}
	return &Font{regular: regular, bold: bold, glyphs: glyphs}, nil
}

// LoadFontFile reads and parses a TrueType font file.
func LoadFontFile(path string) (*Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read font: %w", err)
	}
	return LoadFont(data, nil)
}

// coverage reports whether the active document font can draw a rune.
type coverage interface {
	covers(r rune) bool
}

type cp1252Coverage struct{}

func (cp1252Coverage) covers(r rune) bool {
	_, ok := charmap.Windows1252.EncodeRune(r)
	return ok
}

type fontCoverage struct {
	font *sfnt.Font
}

func (c fontCoverage) covers(r rune) bool {
	var buf sfnt.Buffer
	idx, err := c.font.GlyphIndex(&buf, r)
	return err == nil && idx != 0
}

// missingRunes returns the distinct runes of s that cv cannot draw.
// Control characters are never drawn and are ignored.
func missingRunes(cv coverage, s string) []rune {
	var missing []rune
	seen := make(map[rune]bool)
	for _, r := range s {
		if unicode.IsControl(r) || seen[r] || cv.covers(r) {
			continue
		}
		seen[r] = true
		missing = append(missing, r)
	}
	return missing
}
