package attachments

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func filenames(t *testing.T, paths []string, f *Filter) []string {
	t.Helper()
	parts, err := Collect(paths, f)
	require.NoError(t, err)
	var out []string
	for _, p := range parts {
		out = append(out, p.Filename)
	}
	return out
}

func TestCollect_Directory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "README.md"), "# hi\n")
	writeFile(t, filepath.Join(root, "go.sum"), "x\n")
	writeFile(t, filepath.Join(root, "node_modules", "dep.js"), "x\n")
	writeFile(t, filepath.Join(root, "secret.env"), "TOKEN=1\n")
	writeFile(t, filepath.Join(root, "blob.bin"), "a\x00b")
	writeFile(t, filepath.Join(root, ".gitignore"), "*.env\n")

	require.Equal(t, []string{".gitignore", "README.md", "main.go"}, filenames(t, []string{root}, nil))

	got := filenames(t, []string{root}, NewFilter(WithIncludeExts([]string{".go"})))
	require.Equal(t, []string{"main.go"}, got)

	got = filenames(t, []string{root}, NewFilter(WithDisableGitIgnore(true), WithExcludeExts([]string{".md"})))
	require.Equal(t, []string{".gitignore", "main.go", "secret.env"}, got)
}

func TestCollect_ExplicitFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.txt")
	writeFile(t, path, "remember the milk")

	parts, err := Collect([]string{path}, nil)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, "notes.txt", parts[0].Filename)
	require.True(t, strings.HasPrefix(parts[0].MediaType, "text/plain"))

	prefix := "data:" + parts[0].MediaType + ";base64,"
	require.True(t, strings.HasPrefix(parts[0].URL, prefix))
	body, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(parts[0].URL, prefix))
	require.NoError(t, err)
	require.Equal(t, "remember the milk", string(body))

	_, err = Collect([]string{path}, NewFilter(WithMaxFileSize(4)))
	require.Error(t, err)
	_, err = Collect([]string{filepath.Join(root, "missing.txt")}, nil)
	require.Error(t, err)
}
