package walker_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/deidaraiorek/deifind/internal/walker"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func collect(t *testing.T, w *walker.Walker, root string) []string {
	t.Helper()
	stream, err := w.Walk(context.Background(), root)
	require.NoError(t, err)

	var got []string
	for path := range stream {
		got = append(got, path)
	}
	sort.Strings(got)
	return got
}

func TestWalkSkipsSymlinksAndCycles(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	writeFile(t, filepath.Join(root, "a.txt"))
	writeFile(t, filepath.Join(root, "sub", "b.txt"))
	writeFile(t, filepath.Join(root, "sub", "deeper", "c.jpg"))
	writeFile(t, filepath.Join(outside, "hidden.txt"))

	require.NoError(t, os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "sub", "outside")))
	require.NoError(t, os.Symlink(root, filepath.Join(root, "sub", "deeper", "loop")))

	want := []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "b.txt"),
		filepath.Join(root, "sub", "deeper", "c.jpg"),
	}

	for _, workers := range []int{1, 3, 8} {
		w := walker.New(&walker.Config{Workers: workers, Buffer: 1}, zaptest.NewLogger(t))
		require.Equal(t, want, collect(t, w, root), "workers=%d", workers)
	}
}

func TestWalkEmptyRoot(t *testing.T) {
	w := walker.New(&walker.Config{Workers: 4}, nil)
	require.Empty(t, collect(t, w, t.TempDir()))
}

func TestWalkSkipsUnreadableSubdirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ok.txt"))
	writeFile(t, filepath.Join(root, "locked", "secret.txt"))

	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	w := walker.New(&walker.Config{Workers: 2}, nil)
	require.Equal(t, []string{filepath.Join(root, "ok.txt")}, collect(t, w, root))
}

func TestWalkRootErrors(t *testing.T) {
	w := walker.New(nil, nil)

	_, err := w.Walk(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, file)
	_, err = w.Walk(context.Background(), file)
	require.ErrorIs(t, err, walker.ErrNotDirectory)
}

func TestWalkCancel(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, filepath.Join(root, "d", string(rune('a'+i%26)), "f"+string(rune('a'+i/26))+".txt"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := walker.New(&walker.Config{Workers: 2, Buffer: 1}, nil)
	stream, err := w.Walk(ctx, root)
	require.NoError(t, err)

	<-stream
	cancel()
	for range stream {
	}
}

func TestDefaultWorkers(t *testing.T) {
	require.GreaterOrEqual(t, walker.DefaultWorkers(), 1)
	require.GreaterOrEqual(t, walker.New(nil, nil).Workers(), 1)
}
