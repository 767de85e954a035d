// Package api serves aggregated evaluation results as JSON so dashboards
// and notebooks can slice metric scores without re-parsing the results file.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/digdir/kunnskapsassistenten/internal/aggregate"
	"github.com/digdir/kunnskapsassistenten/internal/model"
)

// Server holds the loaded evaluation results. Results are read once at
// startup; the server itself is stateless and safe for concurrent requests.
type Server struct {
	results []model.EvaluationResult
}

// NewServer creates a Server over the given results.
func NewServer(results []model.EvaluationResult) *Server {
	return &Server{results: results}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/api/report", s.handleReport)
	r.Get("/api/metrics", s.handleMetrics)
	r.Get("/api/topics", s.handleTopics)
	r.Get("/api/usage-modes", s.handleUsageModes)
	r.Get("/api/failures", s.handleFailures)
	r.Get("/api/results", s.handleResults)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"results": len(s.results),
	})
}

// handleReport aggregates the results, optionally restricted by query
// parameters: metric, topic, scope, operation, complexity. Parameters
// combine with AND; repeated topic values combine with OR.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, aggregate.Aggregate(s.results, filter))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"metrics": aggregate.MetricNames(s.results)})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"topics": aggregate.Topics(s.results)})
}

func (s *Server) handleUsageModes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, aggregate.UsageModeValues(s.results))
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"failures": aggregate.FailureMatrix(s.results)})
}

// handleResults lists individual results with offset/limit paging, honoring
// the same filters as the report endpoint.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	offset, err := intParam(r, "offset", 0)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	filtered := make([]model.EvaluationResult, 0, len(s.results))
	for _, res := range s.results {
		if filter == nil || filter(res) {
			filtered = append(filtered, res)
		}
	}

	total := len(filtered)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"offset":  offset,
		"results": filtered[offset:end],
	})
}

// filterFromQuery builds an aggregation predicate from query parameters.
// Returns nil when no parameter is present.
func filterFromQuery(r *http.Request) (aggregate.Predicate, error) {
	q := r.URL.Query()
	var preds []aggregate.Predicate

	if metric := q.Get("metric"); metric != "" {
		preds = append(preds, aggregate.ByMetric(metric))
	}
	if topics := q["topic"]; len(topics) > 0 {
		preds = append(preds, aggregate.ByTopic(topics...))
	}
	if scope := q.Get("scope"); scope != "" {
		s := model.DocumentScope(scope)
		if !s.Known() {
			return nil, fmt.Errorf("unknown document scope %q", scope)
		}
		preds = append(preds, aggregate.ByScope(s))
	}
	if op := q.Get("operation"); op != "" {
		o := model.OperationType(op)
		if !o.Known() {
			return nil, fmt.Errorf("unknown operation type %q", op)
		}
		preds = append(preds, aggregate.ByOperation(o))
	}
	if complexity := q.Get("complexity"); complexity != "" {
		c := model.OutputComplexity(complexity)
		if !c.Known() {
			return nil, fmt.Errorf("unknown output complexity %q", complexity)
		}
		preds = append(preds, aggregate.ByComplexity(c))
	}

	if len(preds) == 0 {
		return nil, nil
	}
	return aggregate.And(preds...), nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
