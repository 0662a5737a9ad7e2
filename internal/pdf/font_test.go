package pdf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

func TestLoadFont(t *testing.T) {
	_, err := LoadFont([]byte("not a font"), nil)
	assert.Error(t, err)

	_, err = LoadFont(goregular.TTF, []byte("not a font"))
	assert.Error(t, err)

	font, err := LoadFont(goregular.TTF, nil)
	require.NoError(t, err)
	assert.Equal(t, font.regular, font.bold, "the regular face doubles as bold")
}

func TestLoadFontFile(t *testing.T) {
	_, err := LoadFontFile(filepath.Join(t.TempDir(), "missing.ttf"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "Go-Regular.ttf")
	require.NoError(t, os.WriteFile(path, goregular.TTF, 0o644))
	_, err = LoadFontFile(path)
	assert.NoError(t, err)
}

func TestMissingRunes(t *testing.T) {
	assert.Empty(t, missingRunes(cp1252Coverage{}, "Zoë €5\t"))
	assert.Equal(t, []rune{'Ω', 'क'}, missingRunes(cp1252Coverage{}, "ΩkΩक"))

	font, err := LoadFont(goregular.TTF, nil)
	require.NoError(t, err)
	cv := fontCoverage{font: font.glyphs}
	assert.Empty(t, missingRunes(cv, "Zoë Ωmega Ж"))
	assert.Equal(t, []rune{'र', 'ा', 'म'}, missingRunes(cv, "राम"))
}
