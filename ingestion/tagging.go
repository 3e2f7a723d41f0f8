package ingestion

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/knowmesh/ai"
)

// tagProcessor adds LLM-extracted tags to each document.
type tagProcessor struct {
	tagger  ai.Tagger
	pool    *ants.Pool
	maxTags int
	logger  *slog.Logger
}

var _ processor = (*tagProcessor)(nil)

func newTagProcessor(tagger ai.Tagger, pool *ants.Pool, maxTags int, logger *slog.Logger) *tagProcessor {
	return &tagProcessor{
		tagger:  tagger,
		pool:    pool,
		maxTags: maxTags,
		logger:  logger.With("processor", "tags"),
	}
}

// process tags the batch concurrently. Only cancellation is an error.
func (tp *tagProcessor) process(ctx context.Context, batch []*pending) error {
	var wg sync.WaitGroup
	for _, p := range batch {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			tp.tag(ctx, p)
		}
		if err := tp.pool.Submit(task); err != nil {
			// Pool is closed or overloaded; tag inline instead.
			task()
		}
	}
	wg.Wait()
	return ctx.Err()
}

func (tp *tagProcessor) tag(ctx context.Context, p *pending) {
	extracted, err := tp.tagger.ExtractTags(ctx, p.doc.Content)
	if err != nil {
		tp.logger.Warn("tag extraction failed", "path", p.doc.Path, "err", err)
		return
	}
	tags := p.node.Tags
	for _, name := range ai.TagNames(extracted) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || slices.Contains(tags, name) {
			continue
		}
		if tp.maxTags > 0 && len(tags) >= len(p.doc.Tags)+tp.maxTags {
			break
		}
		tags = append(tags, name)
	}
	p.node.Tags = tags
	p.tagged = true
}
