package predict

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/storage"
)

// observeLocked folds wc into the pattern for its time slot.
func (e *Engine) observeLocked(wc core.WorkContext) {
	key := core.PatternKeyFor(wc.Timestamp)
	p, ok := e.patterns[key]
	if !ok {
		p = core.TemporalPattern{Slot: key.Slot, Day: key.Day}
	}
	p.Frequency++
	if wc.Task != "" {
		p.Tasks = union(p.Tasks, wc.Task)
	}
	p.Files = union(p.Files, wc.ActiveFiles...)
	p.Confidence = min(1, p.Confidence+e.cfg.ConfidenceStep)
	p.LastSeen = wc.Timestamp
	e.patterns[key] = p
	e.dirty[key] = struct{}{}
}

func union(set []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(set, v) {
			set = append(set, v)
		}
	}
	return set
}

// Pattern returns the temporal pattern for key.
func (e *Engine) Pattern(key core.PatternKey) (core.TemporalPattern, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.patterns[key]
	return p.Clone(), ok
}

// Patterns returns every known pattern ordered by day, then slot.
func (e *Engine) Patterns() []core.TemporalPattern {
	e.mu.Lock()
	out := make([]core.TemporalPattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		out = append(out, p.Clone())
	}
	e.mu.Unlock()
	slices.SortFunc(out, func(a, b core.TemporalPattern) int {
		return cmp.Or(cmp.Compare(a.Day, b.Day), cmp.Compare(a.Slot, b.Slot))
	})
	return out
}

func (e *Engine) loadPatterns(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	loaded, err := e.repo.LoadPatterns(ctx)
	if errors.Is(err, storage.ErrCorrupted) {
		e.logger.Warn("discarding corrupted temporal patterns", "err", err)
		if err := e.repo.ClearPatterns(ctx); err != nil {
			return fmt.Errorf("failed to clear patterns: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range loaded {
		key := p.Key()
		// Observations made before Start win over the stored copy.
		if _, ok := e.patterns[key]; ok {
			continue
		}
		e.patterns[key] = p
	}
	e.logger.Debug("loaded temporal patterns", "count", len(loaded))
	return nil
}

// FlushPatterns writes patterns changed since the last flush.
func (e *Engine) FlushPatterns(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	e.mu.Lock()
	if len(e.dirty) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := make([]core.TemporalPattern, 0, len(e.dirty))
	for key := range e.dirty {
		batch = append(batch, e.patterns[key].Clone())
	}
	clear(e.dirty)
	e.mu.Unlock()

	if err := e.repo.PutPatterns(ctx, batch...); err != nil {
		e.mu.Lock()
		for _, p := range batch {
			e.dirty[p.Key()] = struct{}{}
		}
		e.mu.Unlock()
		return fmt.Errorf("failed to flush patterns: %w", err)
	}
	return nil
}
