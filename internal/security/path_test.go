package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathValidator_ValidatePath(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	v, err := NewPathValidator(root)
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "file inside", path: filepath.Join(root, "a.pdf")},
		{name: "nested inside", path: filepath.Join(root, "x", "y", "a.pdf")},
		{name: "root itself", path: root},
		{name: "empty", path: "", wantErr: true},
		{name: "outside", path: filepath.Join(outside, "a.pdf"), wantErr: true},
		{name: "traversal", path: filepath.Join(root, "..", filepath.Base(outside), "a.pdf"), wantErr: true},
		{name: "prefix sibling", path: root + "-evil/a.pdf", wantErr: true},
		{name: "null byte", path: filepath.Join(root, "a\x00.pdf"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPathValidator_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	v, err := NewPathValidator(root)
	require.NoError(t, err)
	assert.Error(t, v.ValidatePath(link))
}

func TestPathValidator_NormalizePath(t *testing.T) {
	root := t.TempDir()
	v, err := NewPathValidator(root)
	require.NoError(t, err)

	got, err := v.NormalizePath("user_general.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(v.GetConfiguredDirectory(), "user_general.pdf"), got)

	_, err = v.NormalizePath("../escape.pdf")
	assert.Error(t, err)

	_, err = NewPathValidator("")
	assert.Error(t, err)
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"jane", "jane.doe", "general-2024", "user_1"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "a\x00"} {
		assert.Error(t, ValidateName(bad), bad)
	}
}
