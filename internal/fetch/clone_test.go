package fetch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoindex/internal/classify"
)

func TestCloneWalkTree(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("README.md", "# readme")
	write("src/app.py", "print('x')")
	write("logo.png", "\x89PNG")
	write(".git/config", "[core]")
	write("node_modules/dep/index.js", "module.exports = {}")

	f := NewCloneFetcher(classify.DefaultConfig(), nil)
	files, err := f.walkTree(root, zap.NewNop())
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}
	assert.ElementsMatch(t, []string{"README.md", "src/app.py"}, paths)
}

func TestCloneWalkTreeDeterministicOrder(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(name), 0o644))
	}

	f := NewCloneFetcher(nil, nil)
	files, err := f.walkTree(root, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, files, 3)
	assert.Equal(t, "a.txt", files[0].Path)
	assert.Equal(t, "b.txt", files[1].Path)
	assert.Equal(t, "c.txt", files[2].Path)
}
