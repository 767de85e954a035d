// Package sample selects a balanced representative subset of golden
// questions by stratifying on usage mode and subject topic.
package sample

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

// DefaultMaxPerGroup caps how many questions each stratum contributes.
const DefaultMaxPerGroup = 10

// GroupReport shows, for one stratum, how many questions were selected out
// of the total available so imbalance stays visible.
type GroupReport struct {
	Dimension string `json:"dimension"`
	Key       string `json:"key"`
	Selected  int    `json:"selected"`
	Total     int    `json:"total"`
}

// Result holds the sampled questions in input order plus the per-group
// selection report.
type Result struct {
	Questions []model.GoldenQuestion
	Groups    []GroupReport
}

// Sample partitions questions into usage-mode strata and subject-topic
// strata, takes up to maxPerGroup from each, and returns the union
// de-duplicated by question id. A question with N subject topics counts
// toward N topic strata in addition to its usage-mode stratum; it may enter
// the selection through either dimension. Input order is preserved both
// within strata and in the final output.
func Sample(questions []model.GoldenQuestion, maxPerGroup int) Result {
	if maxPerGroup < 1 {
		maxPerGroup = DefaultMaxPerGroup
	}

	var res Result
	if len(questions) == 0 {
		return res
	}

	selected := make(map[string]bool)

	// Usage-mode strata: the first maxPerGroup of each group, input order.
	modeGroups := make(map[string][]int)
	var modeKeys []string
	for i, q := range questions {
		key := q.UsageMode.Key()
		if _, ok := modeGroups[key]; !ok {
			modeKeys = append(modeKeys, key)
		}
		modeGroups[key] = append(modeGroups[key], i)
	}
	sort.Strings(modeKeys)

	for _, key := range modeKeys {
		indices := modeGroups[key]
		count := min(maxPerGroup, len(indices))
		for _, idx := range indices[:count] {
			selected[questions[idx].ID] = true
		}
		res.Groups = append(res.Groups, GroupReport{
			Dimension: "usage_mode",
			Key:       key,
			Selected:  count,
			Total:     len(indices),
		})
		slog.Debug("sampled usage mode group", "key", key, "selected", count, "total", len(indices))
	}

	// Subject-topic strata: top up each topic's representation to
	// maxPerGroup, counting questions already selected via any dimension.
	topicGroups := make(map[string][]int)
	var topicKeys []string
	for i, q := range questions {
		for _, topic := range q.SubjectTopics {
			if _, ok := topicGroups[topic]; !ok {
				topicKeys = append(topicKeys, topic)
			}
			topicGroups[topic] = append(topicGroups[topic], i)
		}
	}
	sort.Strings(topicKeys)

	for _, topic := range topicKeys {
		indices := topicGroups[topic]
		have := 0
		for _, idx := range indices {
			if selected[questions[idx].ID] {
				have++
			}
		}
		for _, idx := range indices {
			if have >= maxPerGroup {
				break
			}
			if !selected[questions[idx].ID] {
				selected[questions[idx].ID] = true
				have++
			}
		}
		res.Groups = append(res.Groups, GroupReport{
			Dimension: "subject_topic",
			Key:       topic,
			Selected:  min(have, maxPerGroup),
			Total:     len(indices),
		})
	}

	// Emit the union in input order.
	emitted := make(map[string]bool)
	for _, q := range questions {
		if selected[q.ID] && !emitted[q.ID] {
			res.Questions = append(res.Questions, q)
			emitted[q.ID] = true
		}
	}

	slog.Info("selected representative questions",
		"input", len(questions),
		"selected", len(res.Questions),
		"usage_mode_groups", len(modeKeys),
		"subject_topic_groups", len(topicKeys),
	)
	return res
}

// FormatReport renders the group report as aligned text lines for CLI output.
func FormatReport(groups []GroupReport) []string {
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("%-14s %-60s %3d / %3d", g.Dimension, g.Key, g.Selected, g.Total))
	}
	return lines
}
