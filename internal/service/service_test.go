package service_test

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/deidaraiorek/deifind/internal/annotate"
	"github.com/deidaraiorek/deifind/internal/config"
	"github.com/deidaraiorek/deifind/internal/fileindex"
	"github.com/deidaraiorek/deifind/internal/pipeline"
	"github.com/deidaraiorek/deifind/internal/service"
	"github.com/deidaraiorek/deifind/internal/storage"
)

type captionProvider struct {
	byName map[string]*annotate.Annotation
}

func (p *captionProvider) Name() string { return "captions" }

func (p *captionProvider) Annotate(ctx context.Context, path string) (*annotate.Annotation, error) {
	return p.byName[filepath.Base(path)], nil
}

// slowProvider captions every image after a delay and reports each call.
type slowProvider struct {
	delay  time.Duration
	called chan struct{}
}

func (p *slowProvider) Name() string { return "slow" }

func (p *slowProvider) Annotate(ctx context.Context, path string) (*annotate.Annotation, error) {
	select {
	case p.called <- struct{}{}:
	default:
	}
	select {
	case <-time.After(p.delay):
		return &annotate.Annotation{Caption: "red car"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	embeddings := filepath.Join(dir, "glove.txt")
	require.NoError(t, os.WriteFile(embeddings, []byte(
		"red 1 0 0 0\ncar 0 1 0 0\nblue 0 0 1 0\nocean 0 0 0 1\nbeach 0 0 0.5 0.5\n"), 0o644))

	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.EmbeddingsPath = embeddings
	cfg.Workers = 2
	cfg.Pipeline.RatePerSecond = 0
	return cfg
}

func TestFilenameSearch(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	for _, name := range []string{"report.pdf", "readme.md", "a/report.pdf", "b/notes.txt"} {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	svc := service.New(cfg, zaptest.NewLogger(t))
	defer svc.Close()

	added, err := svc.IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 4, added)

	added, err = svc.IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	require.Zero(t, added, "indexing accumulates without duplicates")

	require.Equal(t, []fileindex.Match{
		{Name: "report.pdf", Path: filepath.Join(root, "a", "report.pdf")},
		{Name: "report.pdf", Path: filepath.Join(root, "report.pdf")},
	}, svc.SearchFilenames("report.pdf"))
	require.Empty(t, svc.SearchFilenames("re"))

	require.True(t, svc.EnablePrefixSearch())
	require.False(t, svc.EnablePrefixSearch())
	require.Len(t, svc.SearchFilenames("re"), 3)

	// A fresh service picks the saved index up again.
	reloaded := service.New(cfg, zaptest.NewLogger(t))
	defer reloaded.Close()
	require.Len(t, reloaded.SearchFilenames("notes.txt"), 1)
}

func TestImageSearchRequiresEnable(t *testing.T) {
	svc := service.New(testConfig(t), zaptest.NewLogger(t))
	defer svc.Close()

	_, err := svc.IndexImages(context.Background(), t.TempDir())
	require.ErrorIs(t, err, service.ErrImageSearchDisabled)

	_, err = svc.SearchImages(context.Background(), "car", 0)
	require.ErrorIs(t, err, service.ErrImageSearchDisabled)
}

func TestEnableImageSearchConfigFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.EmbeddingsPath = filepath.Join(t.TempDir(), "missing.txt")

	svc := service.New(cfg, zaptest.NewLogger(t), service.WithProvider(&captionProvider{}))
	defer svc.Close()
	require.Error(t, svc.EnableImageSearch(context.Background()))
	require.False(t, svc.ImageSearchEnabled())

	cfg = testConfig(t)
	cfg.Annotator = config.AnnotatorConfig{Provider: "azure"}
	svc = service.New(cfg, zaptest.NewLogger(t))
	defer svc.Close()
	err := svc.EnableImageSearch(context.Background())
	require.ErrorIs(t, err, annotate.ErrUnavailable)
	require.False(t, svc.ImageSearchEnabled())
}

func TestImageIndexAndSearchEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	photo1 := filepath.Join(root, "photo1.png")
	photo2 := filepath.Join(root, "photo2.png")
	beach := filepath.Join(root, "trips", "beach.png")
	writePNG(t, photo1, 300, 300)
	writePNG(t, photo2, 10, 10)
	writePNG(t, beach, 120, 80)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	provider := &captionProvider{byName: map[string]*annotate.Annotation{
		"photo1.png": {Caption: "a red car", Labels: []annotate.Label{{Name: "car", Confidence: 0.9}}},
		"photo2.png": {Caption: "a blue car", Labels: []annotate.Label{{Name: "car", Confidence: 0.9}}},
		"beach.png":  {Caption: "blue ocean", Labels: []annotate.Label{{Name: "beach", Confidence: 0.8}}},
	}}

	svc := service.New(cfg, zaptest.NewLogger(t), service.WithProvider(provider))
	defer svc.Close()

	ctx := context.Background()
	require.NoError(t, svc.EnableImageSearch(ctx))
	require.NoError(t, svc.EnableImageSearch(ctx), "enabling twice is harmless")

	stats, err := svc.IndexImages(ctx, root)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Indexed)
	require.Equal(t, 1, stats.BadDimensions)
	require.Equal(t, 1, stats.NotImage)

	results, err := svc.SearchImages(ctx, "car", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, photo1, results[0].Path)
	require.Greater(t, results[0].Score, results[1].Score)

	results, err = svc.SearchImages(ctx, "Ocean!", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, beach, results[0].Path)

	results, err = svc.SearchImages(ctx, "qwerty", 5)
	require.NoError(t, err)
	require.Empty(t, results)

	require.NoError(t, svc.Close())

	require.NoError(t, storage.WithStore(cfg.DBPath(), func(s *storage.Store) error {
		exists, err := s.ExistsByPath(ctx, photo1)
		require.NoError(t, err)
		require.True(t, exists)

		exists, err = s.ExistsByPath(ctx, photo2)
		require.NoError(t, err)
		require.False(t, exists)
		return nil
	}))
}

func TestRank(t *testing.T) {
	candidates := []storage.StoredVector{
		{ID: 1, Path: "/east.png", Values: []float32{1, 0}},
		{ID: 2, Path: "/north.png", Values: []float32{0, 1}},
		{ID: 3, Path: "/northeast.png", Values: []float32{1, 1}},
		{ID: 4, Path: "/blank.png", Values: []float32{0, 0}},
		{ID: 5, Path: "/east-again.png", Values: []float32{2, 0}},
	}

	results := service.Rank([]float32{1, 0}, candidates, 10)
	var ids []int64
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []int64{1, 5, 3, 2}, ids, "ties keep id order; zero vectors are dropped")

	require.Len(t, service.Rank([]float32{1, 0}, candidates, 2), 2)
	require.Empty(t, service.Rank([]float32{0, 0}, candidates, 10))
}

func TestCloseWaitsForImageIndexing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Concurrency = 1
	root := t.TempDir()
	for i := range 10 {
		writePNG(t, filepath.Join(root, fmt.Sprintf("photo%d.png", i)), 64, 64)
	}

	provider := &slowProvider{delay: 50 * time.Millisecond, called: make(chan struct{}, 1)}
	svc := service.New(cfg, zaptest.NewLogger(t), service.WithProvider(provider))
	require.NoError(t, svc.EnableImageSearch(context.Background()))

	type result struct {
		stats pipeline.Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := svc.IndexImages(context.Background(), root)
		done <- result{stats, err}
	}()

	<-provider.called
	time.Sleep(70 * time.Millisecond)
	require.NoError(t, svc.Close())

	// Close returned, so the indexing run has already let go of the store.
	select {
	case res := <-done:
		require.ErrorIs(t, res.err, context.Canceled)
		require.Less(t, res.stats.Indexed, 10)
	case <-time.After(5 * time.Second):
		t.Fatal("indexing did not stop after Close")
	}

	_, err := svc.SearchImages(context.Background(), "car", 0)
	require.ErrorIs(t, err, service.ErrImageSearchDisabled)
	require.ErrorIs(t, svc.EnableImageSearch(context.Background()), service.ErrClosed)
	require.NoError(t, svc.Close())
}
