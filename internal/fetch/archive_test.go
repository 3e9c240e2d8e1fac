package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/repoindex/internal/gitref"
	"github.com/fyrsmithlabs/repoindex/internal/logging"
)

func buildZip(t *testing.T, root string, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(root + "/" + name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func testRef(t *testing.T) gitref.Ref {
	t.Helper()
	ref, err := gitref.Parse("https://github.com/acme/widgets")
	require.NoError(t, err)
	return ref
}

func archiveServer(t *testing.T, branches map[string][]byte) (*httptest.Server, *ArchiveFetcher) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for branch, body := range branches {
			if r.URL.Path == "/"+branch+".zip" {
				w.Write(body)
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	f := NewArchiveFetcher(WithArchiveURL(func(_ gitref.Ref, branch string) string {
		return fmt.Sprintf("%s/%s.zip", srv.URL, branch)
	}))
	return srv, f
}

func TestArchiveFetch(t *testing.T) {
	archive := buildZip(t, "widgets-main", map[string]string{
		"README.md":  "# Widgets",
		"src/app.py": "print('hi')",
	})
	_, f := archiveServer(t, map[string][]byte{"main": archive})

	files, err := f.Fetch(context.Background(), testRef(t))
	require.NoError(t, err)
	require.Len(t, files, 2)

	byPath := map[string]string{}
	for _, file := range files {
		byPath[file.Path] = string(file.Content)
	}
	assert.Equal(t, "# Widgets", byPath["README.md"])
	assert.Equal(t, "print('hi')", byPath["src/app.py"])
}

func TestArchiveFetchFallsBackToSecondBranch(t *testing.T) {
	archive := buildZip(t, "widgets-master", map[string]string{"main.go": "package main"})
	_, f := archiveServer(t, map[string][]byte{"master": archive})

	files, err := f.Fetch(context.Background(), testRef(t))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].Path)
}

func TestArchiveFetchUsesContextLogger(t *testing.T) {
	archive := buildZip(t, "widgets-master", map[string]string{"main.go": "package main"})
	_, f := archiveServer(t, map[string][]byte{"master": archive})

	core, logs := observer.New(zap.DebugLevel)
	ctx := logging.WithLogger(context.Background(), zap.New(core))

	_, err := f.Fetch(ctx, testRef(t))
	require.NoError(t, err)

	entries := logs.FilterMessage("archive not found, trying next branch").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "main", entries[0].ContextMap()["branch"])
}

func TestArchiveFetchBranchNotFound(t *testing.T) {
	_, f := archiveServer(t, nil)

	_, err := f.Fetch(context.Background(), testRef(t))
	assert.ErrorIs(t, err, ErrBranchNotFound)
}

func TestArchiveFetchPinnedBranchOnly(t *testing.T) {
	archive := buildZip(t, "widgets-dev", map[string]string{"x.txt": "x"})
	_, f := archiveServer(t, map[string][]byte{"dev": archive})

	ref, err := gitref.Parse("https://github.com/acme/widgets/tree/dev")
	require.NoError(t, err)

	files, err := f.Fetch(context.Background(), ref)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestArchiveFetchCorruptZip(t *testing.T) {
	_, f := archiveServer(t, map[string][]byte{"main": []byte("not a zip at all")})

	_, err := f.Fetch(context.Background(), testRef(t))
	assert.ErrorIs(t, err, ErrArchiveCorrupt)
}

func TestArchiveFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := NewArchiveFetcher(WithArchiveURL(func(_ gitref.Ref, branch string) string {
		return srv.URL + "/" + branch + ".zip"
	}))

	_, err := f.Fetch(context.Background(), testRef(t))
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestStripArchiveRoot(t *testing.T) {
	assert.Equal(t, "src/app.py", stripArchiveRoot("repo-main/src/app.py"))
	assert.Equal(t, "", stripArchiveRoot("toplevel"))
}

func TestValidArchivePath(t *testing.T) {
	assert.True(t, validArchivePath("src/app.py"))
	assert.False(t, validArchivePath("/etc/passwd"))
	assert.False(t, validArchivePath("src/../../escape"))
}
