// Package httpadapter is the thin serving surface over the query engine:
// one search endpoint, the health snapshot, and the metrics handler.
package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

type Router struct {
	queryUC        ports.QueryService
	metricsHandler http.Handler
}

func NewRouter(queryUC ports.QueryService, metricsHandler http.Handler) *Router {
	return &Router{
		queryUC:        queryUC,
		metricsHandler: metricsHandler,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/search", rt.search)
	if rt.metricsHandler != nil {
		mux.Handle("/metrics", rt.metricsHandler)
	}
	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.queryUC.Status())
}

type searchRequest struct {
	Query           string            `json:"query"`
	Limit           int               `json:"limit"`
	UseCache        *bool             `json:"use_cache"`
	RerankTopK      int               `json:"rerank_top_k"`
	DiversityLambda *float64          `json:"diversity_lambda"`
	Filters         map[string]string `json:"filters"`
}

type searchResponse struct {
	Results       []domain.SearchCandidate `json:"results"`
	ExpandedTerms []string                 `json:"expanded_terms,omitempty"`
	Degraded      bool                     `json:"degraded"`
	Source        string                   `json:"source"`
	TookMS        float64                  `json:"took_ms"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	result, err := rt.queryUC.Search(r.Context(), req.Query, domain.SearchOptions{
		Limit:           req.Limit,
		UseCache:        useCache,
		RerankTopK:      req.RerankTopK,
		DiversityLambda: req.DiversityLambda,
		Filters:         req.Filters,
	})
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results:       result.Results,
		ExpandedTerms: result.ExpandedTerms,
		Degraded:      result.Degraded,
		Source:        result.Source,
		TookMS:        float64(result.Took.Microseconds()) / 1000.0,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
