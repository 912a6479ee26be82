package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound      = errors.New("storage: image not found")
	ErrDuplicatePath = errors.New("storage: image path already stored")
	ErrAlreadySaved  = errors.New("storage: image already saved")
)

// Store persists images and their semantic vectors in SQLite. It owns a
// single connection; all operations are serialised. A Store must be closed
// exactly once, and using it after Close panics.
type Store struct {
	db     *sql.DB
	closed bool

	mu sync.Mutex
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// WithStore opens the store at path, runs fn and always closes the store.
func WithStore(path string, fn func(*Store) error) (err error) {
	s, err := Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn()
	s.closed = true
	return s.db.Close()
}

// conn must be called with s.mu held.
func (s *Store) conn() *sql.DB {
	if s.db == nil {
		panic("storage: use of unopened store")
	}
	if s.closed {
		panic("storage: use of closed store")
	}
	return s.db
}

// Save inserts the image and every vector element in one transaction. On
// success img.ID and each element's ID and ImageID are set; on failure
// nothing is written and img is left unchanged.
func (s *Store) Save(ctx context.Context, img *Image) error {
	if img.ID != 0 {
		return fmt.Errorf("%w: id %d", ErrAlreadySaved, img.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO images (path, title) VALUES (?, ?)",
		img.Path, img.Title,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicatePath, img.Path)
		}
		return fmt.Errorf("failed to insert image: %w", err)
	}

	imageID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read image id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO semantic_vectors (image_id, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare vector insert: %w", err)
	}
	defer stmt.Close()

	vector := make(SemanticVector, len(img.Vector))
	for i, elem := range img.Vector {
		res, err := stmt.ExecContext(ctx, imageID, elem.Value)
		if err != nil {
			return fmt.Errorf("failed to insert vector element %d: %w", i, err)
		}
		elemID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read vector element id: %w", err)
		}
		vector[i] = VectorElement{ID: elemID, ImageID: imageID, Value: elem.Value}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit image: %w", err)
	}

	img.ID = imageID
	img.Vector = vector
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *Store) ExistsByPath(ctx context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	err := s.conn().QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM images WHERE path = ?)",
		path,
	).Scan(&exists)
	return exists, err
}

func (s *Store) ImageIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn().QueryContext(ctx, "SELECT id FROM images ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query image ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Vector returns the components stored for imageID in insertion order.
func (s *Store) Vector(ctx context.Context, imageID int64) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elems, err := s.vector(ctx, imageID)
	if err != nil {
		return nil, err
	}
	return elems.Floats(), nil
}

func (s *Store) vector(ctx context.Context, imageID int64) (SemanticVector, error) {
	rows, err := s.conn().QueryContext(ctx,
		"SELECT id, image_id, value FROM semantic_vectors WHERE image_id = ? ORDER BY id",
		imageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector: %w", err)
	}
	defer rows.Close()

	var out SemanticVector
	for rows.Next() {
		var e VectorElement
		if err := rows.Scan(&e.ID, &e.ImageID, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ImageByPath(ctx context.Context, path string) (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img := &Image{}
	err := s.conn().QueryRowContext(ctx,
		"SELECT id, path, title FROM images WHERE path = ?",
		path,
	).Scan(&img.ID, &img.Path, &img.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}

	img.Vector, err = s.vector(ctx, img.ID)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Vectors loads every stored image vector in one pass, ordered by image id.
// Images without vector rows are omitted.
func (s *Store) Vectors(ctx context.Context) ([]StoredVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn().QueryContext(ctx, `
		SELECT i.id, i.path, v.value
		FROM images i
		JOIN semantic_vectors v ON v.image_id = i.id
		ORDER BY i.id, v.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var out []StoredVector
	for rows.Next() {
		var (
			id    int64
			path  string
			value float64
		)
		if err := rows.Scan(&id, &path, &value); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != id {
			out = append(out, StoredVector{ID: id, Path: path})
		}
		last := &out[len(out)-1]
		last.Values = append(last.Values, float32(value))
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&count)
	return count, err
}
