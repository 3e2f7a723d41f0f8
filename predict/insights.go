package predict

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/poiesic/knowmesh/core"
	"golang.org/x/sync/errgroup"
)

// Estimated value of each generator's insights.
const (
	expansionValue   = 0.7
	missingLinkValue = 0.5
	timeBasedValue   = 0.6
)

type generator func(ctx context.Context, wc *core.WorkContext, now time.Time) ([]core.Insight, error)

// GenerateProactiveInsights runs the context-expansion, missing-link,
// time-based and network generators concurrently and returns the best
// MaxInsights by confidence times estimated value.
func (e *Engine) GenerateProactiveInsights(ctx context.Context) ([]core.Insight, error) {
	var wc *core.WorkContext
	if current, ok := e.CurrentContext(); ok {
		wc = &current
	}
	now := e.clock.Now()

	generators := []generator{
		e.contextExpansion,
		e.missingLinks,
		e.timeBased,
		func(ctx context.Context, _ *core.WorkContext, _ time.Time) ([]core.Insight, error) {
			return e.network.GenerateNetworkInsights(ctx)
		},
	}
	found := make([][]core.Insight, len(generators))
	g, gctx := errgroup.WithContext(ctx)
	for i, gen := range generators {
		g.Go(func() error {
			out, err := gen(gctx, wc, now)
			found[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []core.Insight
	for _, out := range found {
		all = append(all, out...)
	}
	slices.SortStableFunc(all, func(a, b core.Insight) int {
		return cmp.Or(
			cmp.Compare(b.Score(), a.Score()),
			cmp.Compare(a.Kind(), b.Kind()),
			cmp.Compare(a.Detail.Summary(), b.Detail.Summary()),
		)
	})
	if len(all) > e.cfg.MaxInsights {
		all = all[:e.cfg.MaxInsights]
	}

	for _, in := range all {
		e.issued.Set(in.ID, in.Kind(), cache.DefaultExpiration)
		e.metrics.Insights.WithLabelValues(string(in.Kind())).Inc()
	}
	e.mu.Lock()
	e.latest = slices.Clone(all)
	e.mu.Unlock()
	return all, nil
}

// LatestInsights returns the result of the most recent generation.
func (e *Engine) LatestInsights() []core.Insight {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.latest)
}

// contextExpansion suggests nodes that match the current task closely but
// are not open yet.
func (e *Engine) contextExpansion(ctx context.Context, wc *core.WorkContext, now time.Time) ([]core.Insight, error) {
	if e.search == nil || wc == nil || wc.Task == "" {
		return nil, nil
	}
	resp, err := e.search.Search(ctx, wc.Task, core.Filters{}, core.SearchContext{ActiveFiles: wc.ActiveFiles})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("context expansion search failed", "task", wc.Task, "err", err)
		return nil, nil
	}
	if resp.Degraded {
		return nil, nil
	}

	active := e.resolveAll(wc.ActiveFiles)
	var out []core.Insight
	for _, r := range resp.Results {
		if len(out) >= e.cfg.MaxExpansions {
			break
		}
		if r.SemanticScore <= e.cfg.ExpansionRelevance {
			continue
		}
		if _, ok := active[r.NodeID]; ok {
			continue
		}
		out = e.appendInsight(out, core.ContextExpansion{
			NodeID:    r.NodeID,
			Task:      wc.Task,
			Relevance: r.SemanticScore,
		}, r.SemanticScore, expansionValue, now)
	}
	return out, nil
}

// missingLinks flags pairs of active nodes that are used together but whose
// connection is weak or absent in both directions.
func (e *Engine) missingLinks(_ context.Context, wc *core.WorkContext, now time.Time) ([]core.Insight, error) {
	if wc == nil || len(wc.ActiveFiles) < 2 {
		return nil, nil
	}
	active := e.resolveAll(wc.ActiveFiles)
	ids := make([]string, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	established := e.network.Config().EstablishedThreshold
	var out []core.Insight
	for i := 0; i < len(ids) && len(out) < e.cfg.MaxMissingLinks; i++ {
		for j := i + 1; j < len(ids) && len(out) < e.cfg.MaxMissingLinks; j++ {
			w := max(e.network.Weight(ids[i], ids[j]), e.network.Weight(ids[j], ids[i]))
			if w >= established {
				continue
			}
			// Some existing evidence makes the suggestion more credible.
			confidence := 0.5 + w
			out = e.appendInsight(out, core.MissingLink{
				SourceID: ids[i],
				TargetID: ids[j],
				Weight:   w,
			}, confidence, missingLinkValue, now)
		}
	}
	return out, nil
}

// timeBased recalls what usually happens in the current time slot.
func (e *Engine) timeBased(_ context.Context, _ *core.WorkContext, now time.Time) ([]core.Insight, error) {
	p, ok := e.Pattern(core.PatternKeyFor(now))
	if !ok || p.Frequency < e.cfg.MinPatternFrequency {
		return nil, nil
	}
	if len(p.Tasks) == 0 && len(p.Files) == 0 {
		return nil, nil
	}
	return e.appendInsight(nil, core.TimeBased{
		Slot:      p.Slot,
		Day:       p.Day,
		Tasks:     p.Tasks,
		Files:     p.Files,
		Frequency: p.Frequency,
	}, p.Confidence, timeBasedValue, now), nil
}

func (e *Engine) appendInsight(out []core.Insight, detail core.InsightDetail, confidence, value float64, now time.Time) []core.Insight {
	insight, err := core.NewInsight(detail, confidence, value, now)
	if err != nil {
		e.logger.Warn("dropping invalid insight", "kind", detail.Kind(), "err", err)
		return out
	}
	return append(out, insight)
}

// resolveAll maps active files, given as node ids or source paths, to the
// ids of indexed nodes.
func (e *Engine) resolveAll(files []string) map[string]struct{} {
	out := make(map[string]struct{}, len(files))
	for _, f := range files {
		switch {
		case e.network.HasNode(f):
			out[f] = struct{}{}
		case e.network.HasNode(core.NodeIDFromPath(f)):
			out[core.NodeIDFromPath(f)] = struct{}{}
		}
	}
	return out
}
