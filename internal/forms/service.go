// Package forms runs document generation end to end: schema lookup,
// composition, artifact storage and registration against the user record.
package forms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/a3tai/mcp-form-pdf/internal/pdf"
	"github.com/a3tai/mcp-form-pdf/internal/pdf/layout"
	"github.com/a3tai/mcp-form-pdf/internal/schema"
	"github.com/a3tai/mcp-form-pdf/internal/security"
	"github.com/a3tai/mcp-form-pdf/internal/userstore"
)

// ErrInvalidRequest is returned for requests rejected before composition.
var ErrInvalidRequest = errors.New("invalid request")

// Schemas resolves form ids.
type Schemas interface {
	Get(formID string) (schema.FormSchema, error)
}

// Composer renders documents.
type Composer interface {
	Compose(ctx context.Context, form schema.FormSchema, values map[string]layout.Value) (*pdf.Document, error)
}

// Artifacts stores rendered documents.
type Artifacts interface {
	Save(data []byte, userID, formID string) (string, error)
	Path(filename string) (string, error)
}

// Users is the part of the record store generation needs.
type Users interface {
	FindUser(ctx context.Context, id string) (*userstore.User, error)
	AppendArtifact(ctx context.Context, id, filename string) error
}

// Request is one form submission. Values holds text and date answers; Files
// maps file field names to already stored upload paths, absolute or relative
// to the upload directory.
type Request struct {
	FormID string
	UserID string
	Values map[string]string
	Files  map[string]string
}

// Result is a generated document. Data is always set when err is nil, even
// if registration failed.
type Result struct {
	FormID      string
	UserID      string
	Filename    string
	Data        []byte
	Serial      string
	GeneratedAt time.Time
	Overflowed  bool
	// Unrenderable names fields whose text the document font could not draw.
	Unrenderable []string
	// RegistrationErr is set when the document could not be attached to the
	// user record. Retryable tells whether trying again may succeed.
	RegistrationErr error
	Retryable       bool
}

// Registered reports whether the filename was appended to the user record.
func (r *Result) Registered() bool {
	return r.RegistrationErr == nil
}

// Config wires a Service.
type Config struct {
	Schemas   Schemas
	Composer  Composer
	Artifacts Artifacts
	Users     Users
	UploadDir string
	Workers   int
	Logger    *slog.Logger
}

// Service generates documents. It is safe for concurrent use; at most
// Workers compositions run at the same time.
type Service struct {
	schemas   Schemas
	composer  Composer
	artifacts Artifacts
	users     Users
	uploads   *security.PathValidator
	sem       chan struct{}
	logger    *slog.Logger
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Schemas == nil || cfg.Composer == nil || cfg.Artifacts == nil || cfg.Users == nil {
		return nil, fmt.Errorf("schemas, composer, artifacts and users are required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	uploads, err := security.NewPathValidator(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("upload directory: %w", err)
	}

	return &Service{
		schemas:   cfg.Schemas,
		composer:  cfg.Composer,
		artifacts: cfg.Artifacts,
		users:     cfg.Users,
		uploads:   uploads,
		sem:       make(chan struct{}, cfg.Workers),
		logger:    cfg.Logger,
	}, nil
}

// Generate composes, stores and registers one document.
//
// Schema, request and render failures return an error before anything is
// written. Once the document is stored, registration problems never fail the
// call: they are reported on the Result.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := security.ValidateName(req.UserID); err != nil {
		generationFailures.WithLabelValues(reasonRequest).Inc()
		return nil, fmt.Errorf("%w: user id: %v", ErrInvalidRequest, err)
	}

	form, err := s.schemas.Get(req.FormID)
	if err != nil {
		generationFailures.WithLabelValues(reasonSchema).Inc()
		return nil, err
	}

	values, err := s.collectValues(ctx, form, req)
	if err != nil {
		generationFailures.WithLabelValues(reasonRequest).Inc()
		return nil, err
	}

	doc, err := s.compose(ctx, form, values)
	if err != nil {
		var renderErr *pdf.RenderError
		switch {
		case errors.As(err, &renderErr):
			generationFailures.WithLabelValues(reasonRender).Inc()
			s.logger.Error("document render failed",
				slog.String("form", form.ID),
				slog.String("user", req.UserID),
				slog.String("field", renderErr.Field),
				slog.Any("error", renderErr.Err))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			generationFailures.WithLabelValues(reasonCanceled).Inc()
		default:
			generationFailures.WithLabelValues(reasonRender).Inc()
		}
		return nil, err
	}

	filename, err := s.artifacts.Save(doc.Data, req.UserID, form.ID)
	if err != nil {
		generationFailures.WithLabelValues(reasonArtifact).Inc()
		return nil, fmt.Errorf("cannot store document: %w", err)
	}
	documentsGenerated.WithLabelValues(form.ID).Inc()

	result := &Result{
		FormID:       form.ID,
		UserID:       req.UserID,
		Filename:     filename,
		Data:         doc.Data,
		Serial:       doc.Serial,
		GeneratedAt:  doc.GeneratedAt,
		Overflowed:   doc.Overflowed,
		Unrenderable: doc.Unrenderable,
	}

	// The file exists now; attach it even if the caller has gone away.
	s.register(context.WithoutCancel(ctx), result)

	s.logger.Info("document generated",
		slog.String("form", form.ID),
		slog.String("user", req.UserID),
		slog.String("file", filename),
		slog.String("serial", doc.Serial),
		slog.Bool("registered", result.Registered()))
	return result, nil
}

func (s *Service) compose(ctx context.Context, form schema.FormSchema, values map[string]layout.Value) (*pdf.Document, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	composeInFlight.Inc()
	defer composeInFlight.Dec()

	start := time.Now()
	doc, err := s.composer.Compose(ctx, form, values)
	composeDuration.Observe(time.Since(start).Seconds())
	return doc, err
}

// register appends the filename to the authoritative user record.
func (s *Service) register(ctx context.Context, result *Result) {
	err := s.users.AppendArtifact(ctx, result.UserID, result.Filename)
	if err == nil {
		return
	}

	result.RegistrationErr = err
	attrs := []any{
		slog.String("user", result.UserID),
		slog.String("file", result.Filename),
		slog.Any("error", err),
	}

	switch {
	case errors.Is(err, userstore.ErrUserNotFound):
		registrationFailures.WithLabelValues(reasonUserNotFound).Inc()
		s.logger.Warn("generated document has no owner record", attrs...)
	case userstore.IsRetryable(err):
		result.Retryable = true
		registrationFailures.WithLabelValues(reasonPersist).Inc()
		s.logger.Error("cannot persist document registration", attrs...)
	default:
		registrationFailures.WithLabelValues(reasonOther).Inc()
		s.logger.Error("document registration failed", attrs...)
	}
}

// collectValues maps the submission onto the schema. Photo and signature
// fields without a submitted path fall back to the upload remembered on the
// user's profile.
func (s *Service) collectValues(ctx context.Context, form schema.FormSchema, req Request) (map[string]layout.Value, error) {
	values := make(map[string]layout.Value, len(form.Fields))
	var profile *userstore.User
	profileLoaded := false

	for _, f := range form.Fields {
		if f.Kind != schema.KindFile {
			values[f.Name] = layout.Value{Text: req.Values[f.Name]}
			continue
		}

		path := req.Files[f.Name]
		if path == "" && (f.Slot == schema.SlotPhoto || f.Slot == schema.SlotSignature) {
			if !profileLoaded {
				profile = s.loadProfile(ctx, req.UserID)
				profileLoaded = true
			}
			if profile != nil {
				path = profile.Upload(f.Slot)
			}
		}
		if path == "" {
			values[f.Name] = layout.Value{}
			continue
		}

		resolved, err := s.uploads.NormalizePath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidRequest, f.Name, err)
		}
		values[f.Name] = layout.Value{Path: resolved}
	}
	return values, nil
}

func (s *Service) loadProfile(ctx context.Context, userID string) *userstore.User {
	user, err := s.users.FindUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, userstore.ErrUserNotFound) {
			s.logger.Warn("cannot read profile uploads", slog.String("user", userID), slog.Any("error", err))
		}
		return nil
	}
	return user
}

// StoredDocument is one entry of a user's document history.
type StoredDocument struct {
	Filename string
	Size     int64
	Exists   bool
}

// Documents lists the user's registered documents in generation order.
func (s *Service) Documents(ctx context.Context, userID string) ([]StoredDocument, error) {
	user, err := s.users.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	docs := make([]StoredDocument, 0, len(user.Artifacts))
	for _, name := range user.Artifacts {
		d := StoredDocument{Filename: name}
		if path, err := s.artifacts.Path(name); err == nil {
			if info, err := os.Stat(path); err == nil {
				d.Exists = true
				d.Size = info.Size()
			}
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// UploadDir returns the directory file fields are resolved against.
func (s *Service) UploadDir() string {
	return s.uploads.GetConfiguredDirectory()
}

// Schema exposes the resolved schema for a form id.
func (s *Service) Schema(formID string) (schema.FormSchema, error) {
	return s.schemas.Get(formID)
}
