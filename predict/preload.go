package predict

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/embedcache"
)

// Preload results recorded on the preloads metric.
const (
	preloadCreated  = "created"
	preloadReused   = "reused"
	preloadLoaded   = "loaded"
	preloadFailed   = "failed"
	preloadCanceled = "canceled"
)

// Loader warms nodes ahead of an explicit request. It must honor ctx and
// leave shared state intact when canceled.
type Loader func(ctx context.Context, nodes []core.Node) error

// touchNodes is the default loader. Reading the nodes is all the network
// needs to serve them.
func touchNodes(ctx context.Context, nodes []core.Node) error {
	return ctx.Err()
}

// WarmEmbeddings returns a Loader that pulls node content through the
// embedding cache so later searches and re-embeds find it cached.
func WarmEmbeddings(c *embedcache.Cache) Loader {
	return func(ctx context.Context, nodes []core.Node) error {
		byModel := make(map[string][]string)
		for _, n := range nodes {
			if strings.TrimSpace(n.Content) == "" {
				continue
			}
			byModel[n.Model] = append(byModel[n.Model], n.Content)
		}
		for model, texts := range byModel {
			if _, err := c.GetBatchEmbeddings(ctx, texts, model); err != nil {
				return err
			}
		}
		return nil
	}
}

type preload struct {
	manifest core.PreloadManifest
	cancel   context.CancelFunc
}

// PreloadResources builds a manifest of the nodes most likely needed after
// nodeID and starts warming them in the background. Within the validity
// window a repeated call for the same prediction returns the same manifest
// without loading again.
func (e *Engine) PreloadResources(ctx context.Context, nodeID string) (core.PreloadManifest, error) {
	if err := ctx.Err(); err != nil {
		return core.PreloadManifest{}, err
	}
	predictions, err := e.network.PredictNextNodes(nodeID)
	if err != nil {
		return core.PreloadManifest{}, err
	}
	ids := make([]string, len(predictions))
	priority := 0.0
	for i, p := range predictions {
		ids[i] = p.NodeID
		priority = max(priority, p.Weight)
	}
	key := preloadKey(nodeID, ids)
	now := e.clock.Now()

	e.preloadMu.Lock()
	defer e.preloadMu.Unlock()
	if existing, ok := e.preloads[key]; ok {
		if existing.manifest.Valid(now) {
			e.metrics.Preloads.WithLabelValues(preloadReused).Inc()
			return cloneManifest(existing.manifest), nil
		}
		existing.cancel()
		delete(e.preloads, key)
	}

	manifest := core.PreloadManifest{
		SourceID:          nodeID,
		NodeIDs:           ids,
		Priority:          min(1, priority),
		EstimatedLoadTime: e.cfg.PreloadPerNode * time.Duration(len(ids)),
		CacheKey:          key,
		CreatedAt:         now,
		ValidUntil:        now.Add(e.cfg.PreloadValidity),
	}
	if err := core.ValidateManifest(manifest); err != nil {
		return core.PreloadManifest{}, err
	}

	loadCtx, cancel := context.WithCancel(e.bgCtx)
	e.preloads[key] = &preload{manifest: manifest, cancel: cancel}
	e.metrics.Preloads.WithLabelValues(preloadCreated).Inc()
	if len(ids) > 0 {
		e.startLoad(loadCtx, manifest)
	}
	return cloneManifest(manifest), nil
}

// startLoad submits the warm-up to the pool. Failures are logged only.
func (e *Engine) startLoad(ctx context.Context, m core.PreloadManifest) {
	e.wg.Add(1)
	err := e.pool.Submit(func() {
		defer e.wg.Done()
		nodes := make([]core.Node, 0, len(m.NodeIDs))
		for _, id := range m.NodeIDs {
			if node, err := e.network.Node(id); err == nil {
				nodes = append(nodes, node)
			}
		}
		err := e.loader(ctx, nodes)
		switch {
		case err == nil:
			e.metrics.Preloads.WithLabelValues(preloadLoaded).Inc()
		case errors.Is(err, context.Canceled):
			e.metrics.Preloads.WithLabelValues(preloadCanceled).Inc()
		default:
			e.metrics.Preloads.WithLabelValues(preloadFailed).Inc()
			e.logger.Warn("preload failed", "source", m.SourceID, "nodes", len(nodes), "err", err)
		}
	})
	if err != nil {
		e.wg.Done()
		e.metrics.Preloads.WithLabelValues(preloadFailed).Inc()
		e.logger.Warn("failed to submit preload", "source", m.SourceID, "err", err)
	}
}

// PurgePreloads drops manifests whose validity window has passed and
// cancels their loads. It returns how many were dropped.
func (e *Engine) PurgePreloads() int {
	now := e.clock.Now()
	e.preloadMu.Lock()
	defer e.preloadMu.Unlock()
	purged := 0
	for key, p := range e.preloads {
		if p.manifest.ValidUntil.Before(now) {
			p.cancel()
			delete(e.preloads, key)
			purged++
		}
	}
	if purged > 0 {
		e.logger.Debug("purged preload manifests", "count", purged)
	}
	return purged
}

// Preloads returns the number of manifests currently held.
func (e *Engine) Preloads() int {
	e.preloadMu.Lock()
	defer e.preloadMu.Unlock()
	return len(e.preloads)
}

func preloadKey(source string, ids []string) string {
	return fmt.Sprintf("%016x", core.IDFromContent(source+"\x00"+strings.Join(ids, "\x00")))
}

func cloneManifest(m core.PreloadManifest) core.PreloadManifest {
	m.NodeIDs = append([]string(nil), m.NodeIDs...)
	return m
}
