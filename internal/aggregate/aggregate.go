// Package aggregate computes per-metric summary statistics over evaluation
// results, with predicate-based filtering for slicing by topic or usage mode.
package aggregate

import (
	"log/slog"
	"math"
	"slices"
	"sort"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

// MetricSummary holds the statistics for one metric over the successful
// score records. HasData is false when no record succeeded; the numeric
// fields are then zero and must not be read as scores.
type MetricSummary struct {
	Metric  string  `json:"metric"`
	HasData bool    `json:"has_data"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Total   int     `json:"total"`
	Success int     `json:"success"`
	Failure int     `json:"failure"`
}

// Report is the aggregation output: one summary per metric name seen in the
// filtered results, plus overall counts.
type Report struct {
	Metrics      map[string]MetricSummary `json:"metrics"`
	ResultCount  int                      `json:"result_count"`
	SuccessCount int                      `json:"success_count"`
	FailureCount int                      `json:"failure_count"`
}

// Predicate restricts which results enter an aggregation.
type Predicate func(model.EvaluationResult) bool

// Aggregate computes per-metric mean, population standard deviation, min,
// and max over score records with success=true. Failed records count toward
// failure totals and never contribute to the statistics. A nil predicate
// keeps every result. Pure function of its inputs.
func Aggregate(results []model.EvaluationResult, filter Predicate) Report {
	report := Report{Metrics: make(map[string]MetricSummary)}

	scores := make(map[string][]float64)
	counts := make(map[string]*MetricSummary)

	for _, r := range results {
		if filter != nil && !filter(r) {
			continue
		}
		report.ResultCount++

		for name, score := range r.Metrics {
			summary := counts[name]
			if summary == nil {
				summary = &MetricSummary{Metric: name}
				counts[name] = summary
			}
			summary.Total++

			if !score.Success || score.Score == nil {
				summary.Failure++
				report.FailureCount++
				continue
			}
			summary.Success++
			report.SuccessCount++
			scores[name] = append(scores[name], *score.Score)
		}
	}

	for name, summary := range counts {
		observed := scores[name]
		if len(observed) > 0 {
			summary.HasData = true
			summary.Mean = mean(observed)
			summary.StdDev = populationStdDev(observed, summary.Mean)
			summary.Min = slices.Min(observed)
			summary.Max = slices.Max(observed)
		}
		report.Metrics[name] = *summary
	}

	slog.Debug("aggregated evaluation results",
		"results", report.ResultCount,
		"metrics", len(report.Metrics),
		"failures", report.FailureCount,
	)
	return report
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStdDev(values []float64, mean float64) float64 {
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// ByMetric keeps results that carry a score record for the named metric.
func ByMetric(name string) Predicate {
	return func(r model.EvaluationResult) bool {
		_, ok := r.Metrics[name]
		return ok
	}
}

// ByTopic keeps results whose metadata subject topics include any of the
// given topics.
func ByTopic(topics ...string) Predicate {
	return func(r model.EvaluationResult) bool {
		for _, have := range r.SubjectTopics() {
			if slices.Contains(topics, have) {
				return true
			}
		}
		return false
	}
}

// ByScope keeps results whose usage mode has the given document scope.
func ByScope(scope model.DocumentScope) Predicate {
	return func(r model.EvaluationResult) bool {
		mode, ok := r.ResultUsageMode()
		return ok && mode.DocumentScope == scope
	}
}

// ByOperation keeps results whose usage mode has the given operation type.
func ByOperation(op model.OperationType) Predicate {
	return func(r model.EvaluationResult) bool {
		mode, ok := r.ResultUsageMode()
		return ok && mode.OperationType == op
	}
}

// ByComplexity keeps results whose usage mode has the given output complexity.
func ByComplexity(c model.OutputComplexity) Predicate {
	return func(r model.EvaluationResult) bool {
		mode, ok := r.ResultUsageMode()
		return ok && mode.OutputComplexity == c
	}
}

// And combines predicates; all must match.
func And(preds ...Predicate) Predicate {
	return func(r model.EvaluationResult) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// MetricNames returns the sorted set of metric names present in results.
func MetricNames(results []model.EvaluationResult) []string {
	seen := make(map[string]bool)
	for _, r := range results {
		for name := range r.Metrics {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Topics returns the sorted set of subject topics present in results.
func Topics(results []model.EvaluationResult) []string {
	seen := make(map[string]bool)
	for _, r := range results {
		for _, topic := range r.SubjectTopics() {
			seen[topic] = true
		}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// UsageModeValues returns the sorted distinct values per usage-mode
// dimension present in results, keyed document_scope, operation_type,
// output_complexity.
func UsageModeValues(results []model.EvaluationResult) map[string][]string {
	scopes := make(map[string]bool)
	ops := make(map[string]bool)
	complexities := make(map[string]bool)

	for _, r := range results {
		mode, ok := r.ResultUsageMode()
		if !ok {
			continue
		}
		scopes[string(mode.DocumentScope)] = true
		ops[string(mode.OperationType)] = true
		complexities[string(mode.OutputComplexity)] = true
	}

	return map[string][]string{
		"document_scope":    sortedKeys(scopes),
		"operation_type":    sortedKeys(ops),
		"output_complexity": sortedKeys(complexities),
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailureCell is one entry in the failure matrix: how often a metric failed
// for a given usage-mode key.
type FailureCell struct {
	Metric   string `json:"metric"`
	ModeKey  string `json:"usage_mode"`
	Failures int    `json:"failures"`
	Total    int    `json:"total"`
}

// FailureMatrix cross-tabulates metric failures by usage mode so systematic
// scoring problems in one question category stand out.
func FailureMatrix(results []model.EvaluationResult) []FailureCell {
	type key struct{ metric, mode string }
	cells := make(map[key]*FailureCell)

	for _, r := range results {
		modeKey := "unknown"
		if mode, ok := r.ResultUsageMode(); ok {
			modeKey = mode.Key()
		}
		for name, score := range r.Metrics {
			k := key{name, modeKey}
			cell := cells[k]
			if cell == nil {
				cell = &FailureCell{Metric: name, ModeKey: modeKey}
				cells[k] = cell
			}
			cell.Total++
			if !score.Success || score.Score == nil {
				cell.Failures++
			}
		}
	}

	out := make([]FailureCell, 0, len(cells))
	for _, cell := range cells {
		out = append(out, *cell)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Metric != out[j].Metric {
			return out[i].Metric < out[j].Metric
		}
		return out[i].ModeKey < out[j].ModeKey
	})
	return out
}
