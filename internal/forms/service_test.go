package forms

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/a3tai/mcp-form-pdf/internal/artifact"
	"github.com/a3tai/mcp-form-pdf/internal/pdf"
	"github.com/a3tai/mcp-form-pdf/internal/pdf/layout"
	"github.com/a3tai/mcp-form-pdf/internal/schema"
	"github.com/a3tai/mcp-form-pdf/internal/userstore"
)

var fixedTime = time.Date(2026, time.October, 16, 9, 30, 5, 0, time.UTC)

type fixture struct {
	svc       *Service
	users     *userstore.Users
	artifacts *artifact.Store
	uploadDir string
}

func testSchemas(t *testing.T) *schema.Store {
	t.Helper()
	store, err := schema.Load(
		schema.FormSchema{
			ID:    "general",
			Title: "General Application",
			Fields: []schema.FieldDef{
				schema.Text("full_name", "Full Name"),
				schema.File("photo", "Photo"),
			},
		},
		schema.FormSchema{
			ID:    "upsc",
			Title: "UPSC Application",
			Fields: []schema.FieldDef{
				schema.Text("full_name", "Full Name"),
				schema.Date("dob", "Date of Birth"),
				schema.File("photo", "Photo"),
				schema.File("signature", "Signature"),
				schema.File("marksheet", "Marksheet"),
			},
		},
	)
	require.NoError(t, err)
	return store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, users Users) *fixture {
	t.Helper()
	root := t.TempDir()

	arts, err := artifact.NewStore(filepath.Join(root, "generated"), artifact.PolicySuffix,
		artifact.WithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)

	store, err := userstore.OpenJSON(filepath.Join(root, "users.json"), userstore.WithHashCost(bcrypt.MinCost))
	require.NoError(t, err)
	_, err = store.CreateUser(context.Background(), userstore.NewUser{ID: "jane", Password: "pw"})
	require.NoError(t, err)
	if users == nil {
		users = store
	}

	uploadDir := filepath.Join(root, "uploads")
	require.NoError(t, os.MkdirAll(uploadDir, 0o755))

	svc, err := NewService(Config{
		Schemas: testSchemas(t),
		Composer: pdf.NewComposer(1024*1024,
			pdf.WithClock(func() time.Time { return fixedTime }),
			pdf.WithLogger(discardLogger())),
		Artifacts: arts,
		Users:     users,
		UploadDir: uploadDir,
		Workers:   2,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	return &fixture{svc: svc, users: store, artifacts: arts, uploadDir: uploadDir}
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 20), B: uint8(y * 20), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func inspect(t *testing.T, data []byte) *pdf.Inspection {
	t.Helper()
	result, err := pdf.NewInspector(10 * 1024 * 1024).Inspect(data)
	require.NoError(t, err)
	require.True(t, result.Valid, result.Message)
	return result
}

func artifactCount(t *testing.T, f *fixture) int {
	t.Helper()
	infos, err := f.artifacts.List("")
	require.NoError(t, err)
	return len(infos)
}

func TestGenerate_StoresAndRegistersDocument(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.svc.Generate(ctx, Request{
		FormID: "general",
		UserID: "jane",
		Values: map[string]string{"full_name": "Jane Doe"},
	})
	require.NoError(t, err)
	assert.Equal(t, "jane_general_20261016_093005.pdf", result.Filename)
	assert.True(t, result.Registered())
	assert.False(t, result.Overflowed)

	stored, err := f.artifacts.Read(result.Filename)
	require.NoError(t, err)
	assert.Equal(t, result.Data, stored)

	doc := inspect(t, result.Data)
	assert.Contains(t, doc.Content, "Jane Doe")
	assert.Empty(t, doc.Images)
	require.NotNil(t, doc.Footer)
	assert.Equal(t, result.Serial, doc.Footer.Serial)

	user, err := f.users.FindUser(ctx, "jane")
	require.NoError(t, err)
	assert.Equal(t, []string{result.Filename}, user.Artifacts)
}

func TestGenerate_UnknownFormWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	before := testutil.ToFloat64(generationFailures.WithLabelValues(reasonSchema))

	result, err := f.svc.Generate(context.Background(), Request{FormID: "nonexistent", UserID: "jane"})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, schema.ErrSchemaNotFound)

	assert.Zero(t, artifactCount(t, f))
	user, err := f.users.FindUser(context.Background(), "jane")
	require.NoError(t, err)
	assert.Empty(t, user.Artifacts)
	assert.Equal(t, before+1, testutil.ToFloat64(generationFailures.WithLabelValues(reasonSchema)))
}

func TestGenerate_RenderFailureWritesNothing(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Generate(context.Background(), Request{
		FormID: "general",
		UserID: "jane",
		Files:  map[string]string{"photo": "missing.png"},
	})
	require.Error(t, err)

	var renderErr *pdf.RenderError
	require.True(t, errors.As(err, &renderErr))
	assert.Equal(t, "photo", renderErr.Field)

	assert.Zero(t, artifactCount(t, f))
	user, err := f.users.FindUser(context.Background(), "jane")
	require.NoError(t, err)
	assert.Empty(t, user.Artifacts)
}

func TestGenerate_RejectsUploadsOutsideUploadDir(t *testing.T) {
	f := newFixture(t, nil)
	outside := writePNG(t, t.TempDir(), "photo.png")

	_, err := f.svc.Generate(context.Background(), Request{
		FormID: "general",
		UserID: "jane",
		Files:  map[string]string{"photo": outside},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, artifactCount(t, f))
}

func TestGenerate_RejectsUnsafeUserID(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Generate(context.Background(), Request{FormID: "general", UserID: "../jane"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGenerate_FallsBackToProfileUploads(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	writePNG(t, f.uploadDir, "a1_photo.png")
	signature := writePNG(t, f.uploadDir, "b2_sign.png")
	require.NoError(t, f.users.SetUpload(ctx, "jane", schema.SlotPhoto, "a1_photo.png"))

	result, err := f.svc.Generate(ctx, Request{
		FormID: "upsc",
		UserID: "jane",
		Values: map[string]string{"full_name": "Jane Doe", "dob": "01-01-1990"},
		Files: map[string]string{
			"signature": signature,
			"marksheet": "c3_marks.pdf",
		},
	})
	require.NoError(t, err)

	doc := inspect(t, result.Data)
	assert.Len(t, doc.Images, 2, "profile photo plus submitted signature")
	assert.Contains(t, doc.Content, "c3_marks.pdf")
}

func TestGenerate_UnknownUserStillDeliversDocument(t *testing.T) {
	f := newFixture(t, nil)
	before := testutil.ToFloat64(registrationFailures.WithLabelValues(reasonUserNotFound))

	result, err := f.svc.Generate(context.Background(), Request{FormID: "general", UserID: "ghost"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Data)
	assert.False(t, result.Registered())
	assert.False(t, result.Retryable)
	assert.ErrorIs(t, result.RegistrationErr, userstore.ErrUserNotFound)
	assert.Equal(t, 1, artifactCount(t, f))
	assert.Equal(t, before+1, testutil.ToFloat64(registrationFailures.WithLabelValues(reasonUserNotFound)))
}

func TestGenerate_ReportsUnrenderableText(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.svc.Generate(context.Background(), Request{
		FormID: "upsc",
		UserID: "jane",
		Values: map[string]string{"full_name": "राम कुमार", "dob": "1990-01-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"full_name"}, result.Unrenderable)
	assert.True(t, result.Registered())
	assert.Equal(t, 1, artifactCount(t, f))
}

type failingUsers struct{}

func (failingUsers) FindUser(context.Context, string) (*userstore.User, error) {
	return nil, &userstore.PersistError{Op: "read", Err: errors.New("disk on fire")}
}

func (failingUsers) AppendArtifact(context.Context, string, string) error {
	return &userstore.PersistError{Op: "write", Err: errors.New("disk full")}
}

func TestGenerate_PersistFailureIsRetryableAndDelivers(t *testing.T) {
	f := newFixture(t, failingUsers{})

	result, err := f.svc.Generate(context.Background(), Request{
		FormID: "general",
		UserID: "jane",
		Values: map[string]string{"full_name": "Jane Doe"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Data)
	assert.False(t, result.Registered())
	assert.True(t, result.Retryable)
	assert.Contains(t, result.RegistrationErr.Error(), "disk full")
}

func TestGenerate_SameSecondCollisionKeepsBoth(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, Request{FormID: "general", UserID: "jane"})
	require.NoError(t, err)
	second, err := f.svc.Generate(ctx, Request{FormID: "general", UserID: "jane"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Filename, second.Filename)

	docs, err := f.svc.Documents(ctx, "jane")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, first.Filename, docs[0].Filename)
	assert.True(t, docs[0].Exists)
	assert.Positive(t, docs[0].Size)
}

type blockingComposer struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	release chan struct{}
}

func (c *blockingComposer) Compose(ctx context.Context, form schema.FormSchema, _ map[string]layout.Value) (*pdf.Document, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &pdf.Document{Data: []byte("%PDF-" + form.ID), Serial: "00000000"}, nil
}

func TestGenerate_BoundsConcurrentCompositions(t *testing.T) {
	f := newFixture(t, nil)
	composer := &blockingComposer{release: make(chan struct{})}
	f.svc.composer = composer

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Generate(context.Background(), Request{FormID: "general", UserID: "jane"})
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return composer.active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(composer.release)
	wg.Wait()

	assert.Equal(t, int32(2), composer.maxSeen.Load())
	assert.Equal(t, 6, artifactCount(t, f))
}

func TestGenerate_CancelledWhileWaitingForWorker(t *testing.T) {
	f := newFixture(t, nil)
	composer := &blockingComposer{release: make(chan struct{})}
	f.svc.composer = composer

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Generate(context.Background(), Request{FormID: "general", UserID: "jane"})
		}()
	}
	require.Eventually(t, func() bool { return composer.active.Load() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.svc.Generate(ctx, Request{FormID: "general", UserID: "jane"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(composer.release)
	wg.Wait()
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Config{UploadDir: t.TempDir()})
	assert.Error(t, err)
}
