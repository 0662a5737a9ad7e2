package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/a3tai/mcp-form-pdf/internal/artifact"
	"github.com/a3tai/mcp-form-pdf/internal/config"
	"github.com/a3tai/mcp-form-pdf/internal/forms"
	"github.com/a3tai/mcp-form-pdf/internal/pdf"
	"github.com/a3tai/mcp-form-pdf/internal/schema"
	"github.com/a3tai/mcp-form-pdf/internal/userstore"
)

var fixedTime = time.Date(2026, time.October, 16, 9, 30, 5, 0, time.UTC)

const testSchemas = `{
  "general": {
    "title": "General Application",
    "fields": [
      {"name": "full_name", "label": "Full Name", "type": "text"},
      {"name": "photo", "label": "Photo", "type": "file"}
    ]
  },
  "upsc": {
    "title": "UPSC Application",
    "fields": [
      {"name": "full_name", "label": "Full Name", "type": "text"},
      {"name": "dob", "label": "Date of Birth", "type": "date"},
      {"name": "photo", "label": "Photo", "type": "file"},
      {"name": "signature", "label": "Signature", "type": "file"}
    ]
  }
}`

type testEnv struct {
	server *Server
	users  *userstore.Users
	config *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.SchemaFile = filepath.Join(root, "exams.json")
	cfg.ArtifactDirectory = filepath.Join(root, "generated")
	cfg.UploadDirectory = filepath.Join(root, "uploads")
	cfg.UserFile = filepath.Join(root, "users.json")
	cfg.Version = "1.2.3"
	require.NoError(t, os.WriteFile(cfg.SchemaFile, []byte(testSchemas), 0o644))
	require.NoError(t, os.MkdirAll(cfg.UploadDirectory, 0o755))

	schemas, err := schema.LoadFile(cfg.SchemaFile)
	require.NoError(t, err)
	arts, err := artifact.NewStore(cfg.ArtifactDirectory, artifact.Policy(cfg.CollisionPolicy),
		artifact.WithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)
	users, err := userstore.OpenJSON(cfg.UserFile, userstore.WithHashCost(bcrypt.MinCost), userstore.WithLogger(logger))
	require.NoError(t, err)
	_, err = users.CreateUser(context.Background(), userstore.NewUser{
		ID: "jane", Password: "pw", Profile: userstore.Profile{Name: "Jane Doe"},
	})
	require.NoError(t, err)

	svc, err := forms.NewService(forms.Config{
		Schemas:   schemas,
		Composer:  pdf.NewComposer(cfg.MaxFileSize, pdf.WithLogger(logger)),
		Artifacts: arts,
		Users:     users,
		UploadDir: cfg.UploadDirectory,
		Workers:   cfg.Workers,
		Logger:    logger,
	})
	require.NoError(t, err)

	srv, err := NewServer(cfg, Deps{
		Forms:     svc,
		Schemas:   schemas,
		Artifacts: arts,
		Inspector: pdf.NewInspector(cfg.MaxFileSize),
		Logger:    logger,
	})
	require.NoError(t, err)

	return &testEnv{server: srv, users: users, config: cfg}
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
		if textContentPtr, ok := content.(*mcp.TextContent); ok {
			return textContentPtr.Text
		}
	}
	return ""
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	for x := 0; x < 6; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: 10, G: 120, B: uint8(40 * y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, Deps{})
	assert.Error(t, err)

	_, err = NewServer(config.DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestServer_HandleFormList(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleFormList(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := extractTextFromResult(result)
	assert.Contains(t, text, "Found 2 form(s)")
	assert.Contains(t, text, "1. general")
	assert.Contains(t, text, "UPSC Application")
	assert.Contains(t, text, "uploads: photo, signature")
}

func TestServer_HandleFormDescribe(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		args     map[string]interface{}
		wantErr  bool
		contains []string
	}{
		{
			name:     "known form",
			args:     map[string]interface{}{"form_id": "upsc"},
			contains: []string{"Title: UPSC Application", "2. dob (date) - Date of Birth", "photo, top right", "signature image with caption"},
		},
		{
			name:     "unknown form",
			args:     map[string]interface{}{"form_id": "nonexistent"},
			wantErr:  true,
			contains: []string{"form not found: nonexistent"},
		},
		{
			name:    "missing form_id",
			args:    map[string]interface{}{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.server.handleFormDescribe(context.Background(), callRequest(tt.args))
			require.NoError(t, err)
			assert.Equal(t, tt.wantErr, result.IsError)

			text := extractTextFromResult(result)
			for _, want := range tt.contains {
				assert.Contains(t, text, want)
			}
		})
	}
}

func TestServer_HandleFormGenerate(t *testing.T) {
	env := newTestEnv(t)
	writePNG(t, filepath.Join(env.config.UploadDirectory, "a1_photo.png"))

	result, err := env.server.handleFormGenerate(context.Background(), callRequest(map[string]interface{}{
		"form_id": "general",
		"user_id": "jane",
		"values":  map[string]interface{}{"full_name": "Jane Doe"},
		"files":   map[string]interface{}{"photo": "a1_photo.png"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	text := extractTextFromResult(result)
	assert.Contains(t, text, "Generated general for jane")
	assert.Contains(t, text, "File: jane_general_20261016_093005.pdf")
	assert.Regexp(t, `Serial No: [0-9a-f]{8}`, text)
	assert.NotContains(t, text, "WARNING")
	assert.Len(t, result.Content, 1)

	user, err := env.users.FindUser(context.Background(), "jane")
	require.NoError(t, err)
	assert.Equal(t, []string{"jane_general_20261016_093005.pdf"}, user.Artifacts)
}

func TestServer_HandleFormGenerate_IncludePDF(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleFormGenerate(context.Background(), callRequest(map[string]interface{}{
		"form_id":     "general",
		"user_id":     "jane",
		"include_pdf": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 2)

	embedded, ok := result.Content[1].(mcp.EmbeddedResource)
	require.True(t, ok, "expected embedded resource, got %T", result.Content[1])
	blob, ok := embedded.Resource.(mcp.BlobResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/pdf", blob.MIMEType)

	data, err := base64.StdEncoding.DecodeString(blob.Blob)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestServer_HandleFormGenerate_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		args    map[string]interface{}
		message string
	}{
		{
			name:    "unknown form",
			args:    map[string]interface{}{"form_id": "nonexistent", "user_id": "jane"},
			message: "form not found: nonexistent",
		},
		{
			name:    "missing user",
			args:    map[string]interface{}{"form_id": "general"},
			message: "user_id",
		},
		{
			name: "unreadable photo",
			args: map[string]interface{}{
				"form_id": "general", "user_id": "jane",
				"files": map[string]interface{}{"photo": "missing.png"},
			},
			message: `could not render field "photo"`,
		},
		{
			name: "upload outside upload directory",
			args: map[string]interface{}{
				"form_id": "general", "user_id": "jane",
				"files": map[string]interface{}{"photo": "../../etc/passwd"},
			},
			message: "invalid request",
		},
		{
			name: "values is not an object",
			args: map[string]interface{}{
				"form_id": "general", "user_id": "jane", "values": "Jane",
			},
			message: "values: expected an object",
		},
		{
			name: "nested value",
			args: map[string]interface{}{
				"form_id": "general", "user_id": "jane",
				"values": map[string]interface{}{"full_name": []interface{}{"Jane"}},
			},
			message: `field "full_name"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.server.handleFormGenerate(context.Background(), callRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractTextFromResult(result), tt.message)
		})
	}

	infos, err := env.server.artifacts.List("")
	require.NoError(t, err)
	assert.Empty(t, infos, "failed generations store nothing")
}

func TestServer_HandleFormGenerate_UnknownUserWarns(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleFormGenerate(context.Background(), callRequest(map[string]interface{}{
		"form_id": "general",
		"user_id": "ghost",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractTextFromResult(result), "WARNING: the document was not added")
}

func TestServer_HandleFormGenerate_UnrenderableTextWarns(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleFormGenerate(context.Background(), callRequest(map[string]interface{}{
		"form_id": "general",
		"user_id": "jane",
		"values":  map[string]interface{}{"full_name": "राम कुमार"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractTextFromResult(result),
		"WARNING: the document font cannot draw some characters in: full_name")
}

func TestServer_HandleDocumentInspect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	gen, err := env.server.handleFormGenerate(ctx, callRequest(map[string]interface{}{
		"form_id": "general",
		"user_id": "jane",
		"values":  map[string]interface{}{"full_name": "Jane Doe"},
	}))
	require.NoError(t, err)
	require.False(t, gen.IsError)

	result, err := env.server.handleDocumentInspect(ctx, callRequest(map[string]interface{}{
		"filename": "jane_general_20261016_093005.pdf",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	text := extractTextFromResult(result)
	assert.Contains(t, text, "Valid: true")
	assert.Contains(t, text, "Pages: 1")
	assert.Regexp(t, `Serial No: [0-9a-f]{8}`, text)
	assert.Contains(t, text, "Jane Doe")

	for _, name := range []string{"nope.pdf", "../users.json"} {
		result, err := env.server.handleDocumentInspect(ctx, callRequest(map[string]interface{}{"filename": name}))
		require.NoError(t, err)
		assert.True(t, result.IsError, name)
	}
}

func TestServer_HandleUserDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.server.handleUserDocuments(ctx, callRequest(map[string]interface{}{"user_id": "jane"}))
	require.NoError(t, err)
	assert.Contains(t, extractTextFromResult(result), "No documents generated for jane")

	_, err = env.server.handleFormGenerate(ctx, callRequest(map[string]interface{}{"form_id": "general", "user_id": "jane"}))
	require.NoError(t, err)
	require.NoError(t, env.users.AppendArtifact(ctx, "jane", "jane_old_20200101_000000.pdf"))

	result, err = env.server.handleUserDocuments(ctx, callRequest(map[string]interface{}{"user_id": "jane"}))
	require.NoError(t, err)
	text := extractTextFromResult(result)
	assert.Contains(t, text, "2 document(s) for jane")
	assert.Contains(t, text, "1. jane_general_20261016_093005.pdf (")
	assert.Contains(t, text, "2. jane_old_20200101_000000.pdf (missing on disk)")

	result, err = env.server.handleUserDocuments(ctx, callRequest(map[string]interface{}{"user_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractTextFromResult(result), "user not found: ghost")
}

func TestServer_HandleServerInfo(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleServerInfo(context.Background(), callRequest(nil))
	require.NoError(t, err)

	text := extractTextFromResult(result)
	assert.Contains(t, text, "mcp-form-pdf v1.2.3")
	assert.Contains(t, text, "Collision policy: suffix")
	assert.Contains(t, text, "Forms (2):")
	for _, tool := range []string{"form_list", "form_describe", "form_generate", "form_document_inspect", "user_documents", "form_server_info"} {
		assert.True(t, strings.Contains(text, "  - "+tool+": "), "missing tool %s", tool)
	}
}

func TestStringMap(t *testing.T) {
	got, err := stringMap(map[string]interface{}{"a": "x", "b": 2.5, "c": true, "d": nil})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "x", "b": "2.5", "c": "true"}, got)

	got, err = stringMap(map[string]interface{}{
		"roll_no": float64(1234567),
		"phone":   float64(9876543210),
		"tiny":    0.000001,
		"neg":     float64(-42),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"roll_no": "1234567",
		"phone":   "9876543210",
		"tiny":    "0.000001",
		"neg":     "-42",
	}, got)

	got, err = stringMap(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = stringMap([]interface{}{"x"})
	assert.Error(t, err)
}
