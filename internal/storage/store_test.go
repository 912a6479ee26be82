package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "images.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if !s.closed {
			s.Close()
		}
	})
	return s
}

func TestSaveStampsIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	img := NewImage("/photos/photo1.png", []float32{0.25, 0.5, 0.75})
	require.Equal(t, "photo1.png", img.Title)
	require.Zero(t, img.ID)

	require.NoError(t, s.Save(ctx, img))
	require.NotZero(t, img.ID)
	for _, e := range img.Vector {
		require.Equal(t, img.ID, e.ImageID)
		require.NotZero(t, e.ID)
	}

	exists, err := s.ExistsByPath(ctx, "/photos/photo1.png")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = s.ExistsByPath(ctx, "/photos/photo2.png")
	require.NoError(t, err)
	require.False(t, exists)

	v, err := s.Vector(ctx, img.ID)
	require.NoError(t, err)
	require.Equal(t, []float32{0.25, 0.5, 0.75}, v)

	err = s.Save(ctx, img)
	require.ErrorIs(t, err, ErrAlreadySaved)
}

func TestSaveDuplicatePath(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Save(ctx, NewImage("/p/a.jpg", []float32{1})))

	dup := NewImage("/p/a.jpg", []float32{2})
	require.ErrorIs(t, s.Save(ctx, dup), ErrDuplicatePath)
	require.Zero(t, dup.ID)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSaveRollsBackOnVectorFailure(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	// Abort the second component written for any image.
	_, err := s.db.Exec(`
		CREATE TRIGGER fail_second_component BEFORE INSERT ON semantic_vectors
		WHEN (SELECT COUNT(*) FROM semantic_vectors WHERE image_id = NEW.image_id) = 1
		BEGIN
			SELECT RAISE(ABORT, 'forced failure');
		END;`)
	require.NoError(t, err)

	img := NewImage("/p/broken.png", []float32{1, 2, 3})
	require.Error(t, s.Save(ctx, img))
	require.Zero(t, img.ID)
	for _, e := range img.Vector {
		require.Zero(t, e.ID)
		require.Zero(t, e.ImageID)
	}

	exists, err := s.ExistsByPath(ctx, "/p/broken.png")
	require.NoError(t, err)
	require.False(t, exists)

	var rows int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM semantic_vectors").Scan(&rows))
	require.Zero(t, rows)
}

func TestImageIDsAndVectors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a := NewImage("/p/a.png", []float32{1, 0})
	b := NewImage("/p/b.png", []float32{0, 1})
	empty := NewImage("/p/empty.png", nil)
	for _, img := range []*Image{a, b, empty} {
		require.NoError(t, s.Save(ctx, img))
	}

	ids, err := s.ImageIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{a.ID, b.ID, empty.ID}, ids)

	all, err := s.Vectors(ctx)
	require.NoError(t, err)
	require.Equal(t, []StoredVector{
		{ID: a.ID, Path: "/p/a.png", Values: []float32{1, 0}},
		{ID: b.ID, Path: "/p/b.png", Values: []float32{0, 1}},
	}, all)

	got, err := s.ImageByPath(ctx, "/p/b.png")
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)
	require.Equal(t, "b.png", got.Title)
	require.Equal(t, []float32{0, 1}, got.Vector.Floats())

	_, err = s.ImageByPath(ctx, "/p/missing.png")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "images.db")

	require.NoError(t, WithStore(path, func(s *Store) error {
		return s.Save(ctx, NewImage("/p/a.png", []float32{0.5}))
	}))

	require.NoError(t, WithStore(path, func(s *Store) error {
		exists, err := s.ExistsByPath(ctx, "/p/a.png")
		require.NoError(t, err)
		require.True(t, exists)
		return nil
	}))
}

func TestMisuseFailsLoudly(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())

	require.Panics(t, func() { s.Close() })
	require.Panics(t, func() { s.ExistsByPath(context.Background(), "/x") })
	require.Panics(t, func() { (&Store{}).Close() })
}
