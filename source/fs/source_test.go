package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, path, content string, modified time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, modified, modified))
}

func paths(docs []core.SourceDocument, root string) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		rel, _ := filepath.Rel(root, d.Path)
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	t.Run("directory", func(t *testing.T) {
		s, err := New(dir, WithLogger(nil))
		require.NoError(t, err)
		assert.Equal(t, "fs:"+s.Root(), s.Name())
	})

	t.Run("missing", func(t *testing.T) {
		_, err := New(filepath.Join(dir, "missing"))
		assert.Error(t, err)
	})

	t.Run("file", func(t *testing.T) {
		file := filepath.Join(dir, "note.md")
		writeFile(t, file, "x", epoch)
		_, err := New(file)
		assert.ErrorIs(t, err, ErrNotDirectory)
	})

	t.Run("invalid max size", func(t *testing.T) {
		_, err := New(dir, WithMaxFileSize(0))
		assert.Error(t, err)
	})
}

func TestListChangedNodes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old.md"), "old notes", epoch.Add(-48*time.Hour))
	writeFile(t, filepath.Join(root, "Projects", "plan.md"), "the plan", epoch.Add(time.Hour))
	writeFile(t, filepath.Join(root, "today.txt"), "today", epoch)
	writeFile(t, filepath.Join(root, "image.png"), "binary", epoch)
	writeFile(t, filepath.Join(root, ".hidden.md"), "secret", epoch)
	writeFile(t, filepath.Join(root, ".git", "HEAD.md"), "ref", epoch)

	s, err := New(root)
	require.NoError(t, err)

	docs, err := s.ListChangedNodes(context.Background(), epoch)
	require.NoError(t, err)
	assert.Equal(t, []string{"today.txt", "Projects/plan.md"}, paths(docs, s.Root()), "oldest first, at-or-after since")

	plan := docs[1]
	assert.Equal(t, core.NodeIDFromPath(plan.Path), plan.ID)
	assert.Equal(t, "the plan", plan.Content)
	assert.Equal(t, []string{"projects"}, plan.Tags)
	assert.True(t, plan.LastModified.Equal(epoch.Add(time.Hour)))
	assert.Nil(t, docs[0].Tags)

	all, err := s.ListChangedNodes(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListChangedNodes_Options(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "short", epoch)
	writeFile(t, filepath.Join(root, "b.go"), "package b", epoch)
	writeFile(t, filepath.Join(root, "big.go"), "package big // with a long comment", epoch)

	s, err := New(root, WithExtensions("go"), WithMaxFileSize(16))
	require.NoError(t, err)

	docs, err := s.ListChangedNodes(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.go"}, paths(docs, s.Root()))
}

func TestListChangedNodes_Canceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "a", epoch)
	s, err := New(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ListChangedNodes(ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

// recordingHandler collects what Watch pushes.
type recordingHandler struct {
	mu      sync.Mutex
	indexed map[string]string // path -> content
	removed []string
}

func (h *recordingHandler) Index(ctx context.Context, docs ...core.SourceDocument) (ingestion.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range docs {
		h.indexed[d.Path] = d.Content
	}
	return ingestion.Report{Indexed: len(docs)}, nil
}

func (h *recordingHandler) Remove(ctx context.Context, ids ...string) (ingestion.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, ids...)
	return ingestion.Report{Removed: len(ids)}, nil
}

func (h *recordingHandler) content(path string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.indexed[path]
}

func (h *recordingHandler) wasRemoved(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.removed {
		if r == id {
			return true
		}
	}
	return false
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	h := &recordingHandler{indexed: make(map[string]string)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, h) }()

	note := filepath.Join(s.Root(), "note.md")
	assert.Eventually(t, func() bool {
		// Rewrite until the watcher is up and has seen it.
		_ = os.WriteFile(note, []byte("first draft"), 0o644)
		return h.content(note) == "first draft"
	}, 2*time.Second, 50*time.Millisecond)

	sub := filepath.Join(s.Root(), "journal")
	require.NoError(t, os.Mkdir(sub, 0o755))
	entry := filepath.Join(sub, "day.md")
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(entry, []byte("new directory"), 0o644)
		return h.content(entry) == "new directory"
	}, 2*time.Second, 50*time.Millisecond, "directories created while watching are followed")

	require.NoError(t, os.Remove(note))
	assert.Eventually(t, func() bool {
		return h.wasRemoved(core.NodeIDFromPath(note))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_RequiresHandler(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.ErrorIs(t, s.Watch(context.Background(), nil), ErrHandlerRequired)
}
