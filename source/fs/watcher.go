package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/ingestion"
)

// Handler receives the changes Watch observes. *ingestion.Pipeline
// satisfies it.
type Handler interface {
	Index(ctx context.Context, docs ...core.SourceDocument) (ingestion.Report, error)
	Remove(ctx context.Context, ids ...string) (ingestion.Report, error)
}

var _ Handler = (*ingestion.Pipeline)(nil)

// Watch follows the tree until ctx is canceled, indexing files once they
// have been quiet for the debounce delay and removing deleted or renamed
// ones. Directories created while watching are followed too.
func (s *Source) Watch(ctx context.Context, h Handler) error {
	if h == nil {
		return ErrHandlerRequired
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := s.addTree(watcher, s.root); err != nil {
		return err
	}
	s.logger.Info("watching source", "root", s.root)

	var (
		mu      sync.Mutex
		timers  = make(map[string]*time.Timer)
		pending sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for path, t := range timers {
			if t.Stop() {
				pending.Done()
			}
			delete(timers, path)
		}
		mu.Unlock()
		pending.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok && t.Stop() {
			pending.Done()
		}
		pending.Add(1)
		timers[path] = time.AfterFunc(s.debounce, func() {
			defer pending.Done()
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			s.indexFile(ctx, h, path)
		})
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping source watcher", "root", s.root)
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handle(ctx, watcher, h, event, schedule)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("file watcher error", "err", err)
		}
	}
}

func (s *Source) handle(ctx context.Context, watcher *fsnotify.Watcher, h Handler, event fsnotify.Event, schedule func(string)) {
	path := event.Name
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		// Removed directories take their files with them; the network only
		// knows files, so a removal that matches no node is a no-op.
		if !s.matches(path) {
			return
		}
		if _, err := h.Remove(ctx, core.NodeIDFromPath(path)); err != nil {
			s.logger.Warn("failed to remove node", "path", path, "err", err)
		}

	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if event.Has(fsnotify.Create) && !hidden(filepath.Base(path)) {
				if err := s.addTree(watcher, path); err != nil {
					s.logger.Warn("failed to watch directory", "path", path, "err", err)
				}
			}
			return
		}
		if s.matches(path) && !s.inHiddenDir(path) {
			schedule(path)
		}
	}
}

func (s *Source) indexFile(ctx context.Context, h Handler, path string) {
	if ctx.Err() != nil {
		return
	}
	doc, err := s.Document(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.logger.Warn("skipping file", "path", path, "err", err)
		return
	}
	if _, err := h.Index(ctx, doc); err != nil {
		s.logger.Warn("failed to index file", "path", path, "err", err)
		return
	}
	s.logger.Debug("indexed changed file", "path", path)
}

// addTree watches dir and every non-hidden directory below it.
func (s *Source) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.root && hidden(d.Name()) {
			return iofs.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (s *Source) inHiddenDir(path string) bool {
	rel, err := filepath.Rel(s.root, filepath.Dir(path))
	if err != nil || rel == "." {
		return false
	}
	for dir := rel; dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if hidden(filepath.Base(dir)) {
			return true
		}
	}
	return false
}
