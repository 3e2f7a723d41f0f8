package fs

import (
	"context"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/ingestion"
)

var _ ingestion.ContentSource = (*Source)(nil)

// DefaultExtensions are the file types indexed when none are configured.
var DefaultExtensions = []string{".md", ".txt", ".rst", ".org"}

// Source is a directory tree of text documents.
type Source struct {
	root       string
	extensions []string
	maxBytes   int64
	debounce   time.Duration
	logger     *slog.Logger
}

// Option configures a Source.
type Option func(*Source) error

// WithExtensions limits the source to files with the given extensions.
func WithExtensions(exts ...string) Option {
	return func(s *Source) error {
		s.extensions = s.extensions[:0]
		for _, ext := range exts {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.extensions = append(s.extensions, ext)
		}
		return nil
	}
}

// WithMaxFileSize skips files larger than n bytes. Default is 1 MiB.
func WithMaxFileSize(n int64) Option {
	return func(s *Source) error {
		if n <= 0 {
			return fmt.Errorf("max file size must be positive: %d", n)
		}
		s.maxBytes = n
		return nil
	}
}

// WithDebounce sets how long Watch waits for a file to settle before
// indexing it. Default is 250ms.
func WithDebounce(d time.Duration) Option {
	return func(s *Source) error {
		if d < 0 {
			return fmt.Errorf("debounce must not be negative: %s", d)
		}
		s.debounce = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "source-fs")
		return nil
	}
}

// New creates a source rooted at dir.
func New(dir string, opts ...Option) (*Source, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	s := &Source{
		root:       root,
		extensions: slices.Clone(DefaultExtensions),
		maxBytes:   1 << 20,
		debounce:   250 * time.Millisecond,
		logger:     slog.Default().With("component", "source-fs"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Name identifies the source by its root.
func (s *Source) Name() string {
	return "fs:" + s.root
}

// Root returns the absolute root directory.
func (s *Source) Root() string {
	return s.root
}

// ListChangedNodes walks the tree and returns matching files modified at or
// after since, oldest first. Hidden files and directories are skipped.
func (s *Source) ListChangedNodes(ctx context.Context, since time.Time) ([]core.SourceDocument, error) {
	var docs []core.SourceDocument
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable path", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return iofs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.root && hidden(d.Name()) {
				return iofs.SkipDir
			}
			return nil
		}
		if !s.matches(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(since) {
			return nil
		}
		doc, err := s.read(path, info)
		if err != nil {
			s.logger.Warn("skipping file", "path", path, "err", err)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(docs, func(a, b core.SourceDocument) int {
		return a.LastModified.Compare(b.LastModified)
	})
	return docs, nil
}

// Document reads a single file as a source document.
func (s *Source) Document(path string) (core.SourceDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return core.SourceDocument{}, err
	}
	return s.read(path, info)
}

func (s *Source) read(path string, info iofs.FileInfo) (core.SourceDocument, error) {
	if info.Size() > s.maxBytes {
		return core.SourceDocument{}, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), s.maxBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return core.SourceDocument{}, err
	}
	return core.SourceDocument{
		ID:           core.NodeIDFromPath(path),
		Path:         path,
		Content:      string(content),
		LastModified: info.ModTime().UTC(),
		Tags:         s.tagsFor(path),
	}, nil
}

// tagsFor tags a file with the first directory below the root, if any.
func (s *Source) tagsFor(path string) []string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return nil
	}
	dir, _, found := strings.Cut(filepath.ToSlash(rel), "/")
	if !found {
		return nil
	}
	return []string{strings.ToLower(dir)}
}

func (s *Source) matches(path string) bool {
	if hidden(filepath.Base(path)) {
		return false
	}
	return slices.Contains(s.extensions, strings.ToLower(filepath.Ext(path)))
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
