package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	// Pure Go driver registered as "sqlite".
	_ "modernc.org/sqlite"
)

// Connect opens PostgreSQL for postgres:// DSNs and SQLite otherwise.
// Query logging goes to stderr; stdout may carry the MCP protocol.
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.New(log.New(os.Stderr, "", log.LstdFlags), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return gorm.Open(postgres.Open(dsn), cfg)
	}

	db, err := gorm.Open(gormsqlite.New(gormsqlite.Config{
		DriverName: "sqlite",
		DSN:        dsn,
	}), cfg)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; queue on the pool instead of failing busy.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

type userRow struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Data      string    `gorm:"column:data;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (userRow) TableName() string { return "users" }

// SQLStore keeps one row per user holding the raw record as JSON. Each
// mutation touches a single row inside a transaction.
type SQLStore struct {
	db      *gorm.DB
	idField string
}

// NewSQLStore migrates the users table on db.
func NewSQLStore(db *gorm.DB, idField string) (*SQLStore, error) {
	if idField == "" {
		return nil, fmt.Errorf("id field cannot be empty")
	}
	if err := db.AutoMigrate(&userRow{}); err != nil {
		return nil, &PersistError{Op: "migrate", Err: err}
	}
	return &SQLStore{db: db, idField: idField}, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Doc, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, &PersistError{Op: "read", Err: err}
	}
	return decodeDoc([]byte(row.Data))
}

func (s *SQLStore) Update(ctx context.Context, id string, fn func(Doc) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var row userRow
		err := q.Where("id = ?", id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		if err != nil {
			return &PersistError{Op: "read", Err: err}
		}

		doc, err := decodeDoc([]byte(row.Data))
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("cannot encode user: %w", err)
		}

		err = tx.Model(&userRow{}).Where("id = ?", id).Updates(map[string]any{
			"data":       string(data),
			"updated_at": time.Now().UTC(),
		}).Error
		if err != nil {
			return &PersistError{Op: "write", Err: err}
		}
		return nil
	})
}

func (s *SQLStore) Insert(ctx context.Context, id string, doc Doc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cannot encode user: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return &PersistError{Op: "read", Err: err}
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrUserExists, id)
		}
		if err := tx.Create(&userRow{ID: id, Data: string(data)}).Error; err != nil {
			return &PersistError{Op: "write", Err: err}
		}
		return nil
	})
}

func (s *SQLStore) All(ctx context.Context) ([]Doc, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, &PersistError{Op: "read", Err: err}
	}

	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeDoc([]byte(row.Data))
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", row.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&userRow{})
	if res.Error != nil {
		return &PersistError{Op: "write", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Import copies every record of src that is not yet in s, keyed by the
// configured id field. It returns the number of records copied.
func (s *SQLStore) Import(ctx context.Context, src Backend) (int, error) {
	docs, err := src.All(ctx)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, doc := range docs {
		id := str(doc[s.idField])
		if id == "" {
			continue
		}
		err := s.Insert(ctx, id, doc)
		if errors.Is(err, ErrUserExists) {
			continue
		}
		if err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}
