package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deidaraiorek/deifind/internal/fileindex"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestRootHasSubcommands(t *testing.T) {
	cmd := NewRootCmd("test")

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"index", "find", "images", "search", "watch", "serve"} {
		require.Contains(t, names, want)
	}
}

func TestIndexThenFind(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data_dir: "+filepath.Join(dir, "data")+"\nlog:\n  level: error\n"), 0o644))

	root := filepath.Join(dir, "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "report.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("x"), 0o644))

	out := run(t, "index", root, "--config", cfgPath)
	require.Contains(t, out, "Indexed 2 new files")

	out = run(t, "find", "report.pdf", "--config", cfgPath, "--json")
	var matches []fileindex.Match
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	require.Equal(t, []fileindex.Match{{Name: "report.pdf", Path: filepath.Join(root, "sub", "report.pdf")}}, matches)

	out = run(t, "find", "re", "--prefix", "--config", cfgPath)
	require.Contains(t, out, filepath.Join(root, "readme.md"))
	require.Contains(t, out, filepath.Join(root, "sub", "report.pdf"))
}

func TestSearchFailsWithoutEmbeddings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"data_dir: "+dir+"\nembeddings_path: "+filepath.Join(dir, "missing.txt")+"\nlog:\n  level: error\n"), 0o644))

	cmd := NewRootCmd("test")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"search", "red car", "--config", cfgPath})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestJSONOutputAtDefaultLogLevel(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data_dir: "+filepath.Join(dir, "data")+"\n"), 0o644))

	root := filepath.Join(dir, "tree")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.pdf"), []byte("x"), 0o644))

	stdout, err := os.Create(filepath.Join(dir, "stdout"))
	require.NoError(t, err)
	defer stdout.Close()
	orig := os.Stdout
	os.Stdout = stdout
	defer func() { os.Stdout = orig }()

	cmd := NewRootCmd("test")
	cmd.SetArgs([]string{"index", root, "--json", "--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	os.Stdout = orig

	data, err := os.ReadFile(stdout.Name())
	require.NoError(t, err)

	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got), "stdout: %s", data)
	require.Equal(t, map[string]int{"added": 1}, got)
}
