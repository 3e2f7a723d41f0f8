package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/knowmesh"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/predict"
	"github.com/poiesic/knowmesh/search"
)

// maxBodyBytes bounds request bodies; indexing requests carry content.
const maxBodyBytes = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, graph.ErrNodeNotFound),
		errors.Is(err, predict.ErrInsightNotFound),
		errors.Is(err, search.ErrQueryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidWorkContext),
		errors.Is(err, search.ErrUnknownOutcome),
		errors.Is(err, predict.ErrUnknownOutcome),
		errors.Is(err, core.ErrInvalidNode):
		status = http.StatusBadRequest
	case errors.Is(err, knowmesh.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, r.Context().Err()):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  s.clock.Since(s.started).Seconds(),
		"nodes":   s.mesh.Network().NodeCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatsDTO(s.mesh.Stats()))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	sc := core.SearchContext{
		ActiveFiles:   req.Context.ActiveFiles,
		RecentQueries: req.Context.RecentQueries,
		Intent:        req.Context.Intent,
	}
	resp, err := s.mesh.Search(r.Context(), req.Query, req.Filters.filters(), sc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSearchResponse(resp))
}

func (s *Server) handleSearchFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Query == "" || req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "query and node_id required")
		return
	}
	outcome, err := search.ParseOutcome(req.Outcome)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.mesh.RecordSearchFeedback(r.Context(), req.Query, req.NodeID, outcome); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	wc, ok := s.mesh.Predictor().CurrentContext()
	if !ok {
		writeError(w, http.StatusNotFound, "no context set")
		return
	}
	writeJSON(w, http.StatusOK, workContextDTO{
		Task:        wc.Task,
		Project:     wc.Project,
		ActiveFiles: wc.ActiveFiles,
		Timestamp:   wc.Timestamp,
	})
}

func (s *Server) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	var req workContextDTO
	if !decode(w, r, &req) {
		return
	}
	err := s.mesh.UpdateContext(r.Context(), core.WorkContext{
		Task:        req.Task,
		Project:     req.Project,
		ActiveFiles: req.ActiveFiles,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := s.mesh.ProactiveInsights(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": newInsightDTOs(insights)})
}

func (s *Server) handlePredictionFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome string `json:"outcome"`
	}
	if !decode(w, r, &req) {
		return
	}
	outcome, err := predict.ParseOutcome(req.Outcome)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.mesh.RecordPredictionFeedback(chi.URLParam(r, "insightID"), outcome); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "recorded",
		"accuracy": s.mesh.Predictor().Accuracy(),
	})
}

// handleIndex indexes documents. With ?async=true they are queued and the
// request returns 202 at once.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	async, err := parseAsync(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req indexRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents required")
		return
	}
	docs := make([]core.SourceDocument, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = core.SourceDocument{
			ID:           d.ID,
			Path:         d.Path,
			Content:      d.Content,
			LastModified: d.LastModified,
			Tags:         d.Tags,
		}
	}
	if async {
		if err := s.mesh.IndexAsync(nil, docs...); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "documents": len(docs)})
		return
	}
	report, err := s.mesh.Index(r.Context(), docs...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{
		"indexed":  report.Indexed,
		"degraded": report.Degraded,
		"tagged":   report.Tagged,
		"skipped":  report.Skipped,
	})
}

func parseAsync(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("async")
	if v == "" {
		return false, nil
	}
	async, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New("async must be a boolean")
	}
	return async, nil
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.mesh.Network().Node(chi.URLParam(r, "nodeID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newNodeDTO(node))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")
	if !s.mesh.Network().HasNode(id) {
		s.fail(w, r, graph.ErrNodeNotFound)
		return
	}
	if _, err := s.mesh.Remove(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	var tags []string
	if raw := r.URL.Query().Get("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}
	preds, err := s.mesh.Network().PredictNextNodes(chi.URLParam(r, "nodeID"), tags...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": newPredictionDTOs(preds)})
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	manifest, err := s.mesh.PreloadResources(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newManifestDTO(manifest))
}
