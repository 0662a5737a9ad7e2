package userstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/a3tai/mcp-form-pdf/internal/schema"
	"github.com/a3tai/mcp-form-pdf/internal/security"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Records is the contract the rest of the application uses.
type Records interface {
	FindUser(ctx context.Context, id string) (*User, error)
	AppendArtifact(ctx context.Context, id, filename string) error
	CreateUser(ctx context.Context, nu NewUser) (*User, error)
	Authenticate(ctx context.Context, id, password string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateProfile(ctx context.Context, id string, p Profile) error
	SetPassword(ctx context.Context, id, password string) error
	SetRole(ctx context.Context, id, role string) error
	SetUpload(ctx context.Context, id string, slot schema.Slot, path string) error
	DeleteUser(ctx context.Context, id string) error
}

var _ Records = (*Users)(nil)

// NewUser is a signup request.
type NewUser struct {
	ID       string
	Password string
	Profile
}

// Profile holds the editable personal details.
type Profile struct {
	Name    string
	DOB     string
	Address string
}

// Users implements Records on top of a Backend.
type Users struct {
	backend Backend
	keys    Keys
	cost    int
	logger  *slog.Logger
}

// Option customizes Users.
type Option func(*Users)

// WithKeys overrides the record field names.
func WithKeys(k Keys) Option {
	return func(u *Users) { u.keys = k }
}

// WithHashCost sets the bcrypt cost for new passwords.
func WithHashCost(cost int) Option {
	return func(u *Users) { u.cost = cost }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Users) { u.logger = l }
}

// New wraps backend.
func New(backend Backend, opts ...Option) *Users {
	u := &Users{
		backend: backend,
		keys:    DefaultKeys(),
		cost:    bcrypt.DefaultCost,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// OpenJSON opens a users.json collection.
func OpenJSON(path string, opts ...Option) (*Users, error) {
	u := New(nil, opts...)
	backend, err := NewJSONStore(path, u.keys.ID)
	if err != nil {
		return nil, err
	}
	u.backend = backend
	return u, nil
}

// OpenSQL connects to dsn and migrates the users table.
func OpenSQL(dsn string, opts ...Option) (*Users, error) {
	u := New(nil, opts...)
	db, err := Connect(dsn)
	if err != nil {
		return nil, &PersistError{Op: "connect", Err: err}
	}
	backend, err := NewSQLStore(db, u.keys.ID)
	if err != nil {
		return nil, err
	}
	u.backend = backend
	return u, nil
}

// Backend returns the underlying collection.
func (u *Users) Backend() Backend {
	return u.backend
}

// Close releases the backend.
func (u *Users) Close() error {
	return u.backend.Close()
}

// FindUser reads the authoritative record for id.
func (u *Users) FindUser(ctx context.Context, id string) (*User, error) {
	doc, err := u.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.keys.view(doc), nil
}

// AppendArtifact adds filename to the end of the user's artifact list.
func (u *Users) AppendArtifact(ctx context.Context, id, filename string) error {
	if filename == "" {
		return fmt.Errorf("artifact filename cannot be empty")
	}
	return u.backend.Update(ctx, id, func(doc Doc) error {
		var list []any
		switch v := doc[u.keys.Artifacts].(type) {
		case nil:
		case []any:
			list = v
		default:
			return fmt.Errorf("field %q of user %s is %T, not a list", u.keys.Artifacts, id, v)
		}
		doc[u.keys.Artifacts] = append(list, filename)
		return nil
	})
}

// CreateUser registers a new account with a bcrypt password hash.
func (u *Users) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	if err := security.ValidateName(nu.ID); err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	if nu.Password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), u.cost)
	if err != nil {
		return nil, fmt.Errorf("cannot hash password: %w", err)
	}

	doc := Doc{
		u.keys.ID:        nu.ID,
		u.keys.Password:  string(hash),
		u.keys.Name:      nu.Name,
		u.keys.DOB:       nu.DOB,
		u.keys.Address:   nu.Address,
		u.keys.Role:      RoleUser,
		u.keys.Artifacts: []any{},
	}
	if err := u.backend.Insert(ctx, nu.ID, doc); err != nil {
		return nil, err
	}

	u.logger.Info("user created", slog.String("user", nu.ID))
	return u.keys.view(doc), nil
}

// Authenticate checks a password. Unknown users and wrong passwords both
// return ErrInvalidCredentials; records without a bcrypt hash never match.
func (u *Users) Authenticate(ctx context.Context, id, password string) (*User, error) {
	doc, err := u.backend.Get(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	hash := str(doc[u.keys.Password])
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			u.logger.Warn("stored password is not a bcrypt hash", slog.String("user", id))
		}
		return nil, ErrInvalidCredentials
	}
	return u.keys.view(doc), nil
}

// ListUsers returns every user ordered by id.
func (u *Users) ListUsers(ctx context.Context) ([]*User, error) {
	docs, err := u.backend.All(ctx)
	if err != nil {
		return nil, err
	}
	sortDocs(docs, u.keys.ID)

	users := make([]*User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, u.keys.view(doc))
	}
	return users, nil
}

// UpdateProfile replaces the personal details.
func (u *Users) UpdateProfile(ctx context.Context, id string, p Profile) error {
	return u.backend.Update(ctx, id, func(doc Doc) error {
		doc[u.keys.Name] = p.Name
		doc[u.keys.DOB] = p.DOB
		doc[u.keys.Address] = p.Address
		return nil
	})
}

// SetPassword replaces the password hash.
func (u *Users) SetPassword(ctx context.Context, id, password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		return fmt.Errorf("cannot hash password: %w", err)
	}
	return u.backend.Update(ctx, id, func(doc Doc) error {
		doc[u.keys.Password] = string(hash)
		return nil
	})
}

// SetRole assigns RoleUser or RoleAdmin.
func (u *Users) SetRole(ctx context.Context, id, role string) error {
	if role != RoleUser && role != RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	return u.backend.Update(ctx, id, func(doc Doc) error {
		doc[u.keys.Role] = role
		return nil
	})
}

// SetUpload remembers a stored photo or signature on the profile. An empty
// path clears it.
func (u *Users) SetUpload(ctx context.Context, id string, slot schema.Slot, path string) error {
	var key string
	switch slot {
	case schema.SlotPhoto:
		key = u.keys.Photo
	case schema.SlotSignature:
		key = u.keys.Signature
	default:
		return fmt.Errorf("only photo and signature uploads are kept on the profile")
	}

	return u.backend.Update(ctx, id, func(doc Doc) error {
		if path == "" {
			delete(doc, key)
			return nil
		}
		doc[key] = path
		return nil
	})
}

// DeleteUser removes the record. Generated documents stay on disk.
func (u *Users) DeleteUser(ctx context.Context, id string) error {
	if err := u.backend.Delete(ctx, id); err != nil {
		return err
	}
	u.logger.Info("user deleted", slog.String("user", id))
	return nil
}

// Upload returns the remembered path for a photo or signature slot.
func (usr *User) Upload(slot schema.Slot) string {
	switch slot {
	case schema.SlotPhoto:
		return usr.Photo
	case schema.SlotSignature:
		return usr.Signature
	}
	return ""
}
