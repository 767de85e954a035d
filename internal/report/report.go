// Package report reads and writes the pipeline's JSONL artifacts: the golden
// question set, the transparency files for dropped and failed items, and the
// evaluation results consumed by aggregation.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

// maxLineBytes bounds a single JSONL line; evaluation results carry full
// answers and chunk contents.
const maxLineBytes = 16 * 1024 * 1024

// WriteGoldenQuestions writes the question set to path, one JSON object per
// line, creating parent directories as needed.
func WriteGoldenQuestions(path string, questions []model.GoldenQuestion) error {
	return writeJSONL(path, len(questions), func(enc *json.Encoder, i int) error {
		return enc.Encode(questions[i])
	})
}

// WriteDroppedConversations writes filter drop records to path.
func WriteDroppedConversations(path string, dropped []model.DroppedConversation) error {
	return writeJSONL(path, len(dropped), func(enc *json.Encoder, i int) error {
		return enc.Encode(dropped[i])
	})
}

// WriteDroppedDuplicates writes deduplication drop records to path.
func WriteDroppedDuplicates(path string, dropped []model.DroppedDuplicate) error {
	return writeJSONL(path, len(dropped), func(enc *json.Encoder, i int) error {
		return enc.Encode(dropped[i])
	})
}

// WriteFailedQuestions writes failure records for one stage to path. The
// file is written even when empty so a missing file is distinguishable from
// a clean run.
func WriteFailedQuestions(path string, failed []model.FailedQuestion) error {
	return writeJSONL(path, len(failed), func(enc *json.Encoder, i int) error {
		return enc.Encode(failed[i])
	})
}

// WriteEvaluationResults writes scored results to path.
func WriteEvaluationResults(path string, results []model.EvaluationResult) error {
	return writeJSONL(path, len(results), func(enc *json.Encoder, i int) error {
		return enc.Encode(results[i])
	})
}

func writeJSONL(path string, n int, encode func(*json.Encoder, int) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for i := 0; i < n; i++ {
		if err := encode(enc, i); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	slog.Debug("wrote jsonl file", "path", path, "records", n)
	return nil
}

// ReadGoldenQuestions loads a question set written by WriteGoldenQuestions.
// Malformed lines are skipped with a warning so one bad record does not
// block re-running later stages; the skipped count is returned.
func ReadGoldenQuestions(path string) ([]model.GoldenQuestion, int, error) {
	var questions []model.GoldenQuestion
	skipped, err := readJSONL(path, func(line []byte) error {
		var q model.GoldenQuestion
		if err := json.Unmarshal(line, &q); err != nil {
			return err
		}
		if q.ID == "" {
			return fmt.Errorf("missing id")
		}
		questions = append(questions, q)
		return nil
	})
	return questions, skipped, err
}

// ReadEvaluationResults loads scored results for aggregation.
func ReadEvaluationResults(path string) ([]model.EvaluationResult, int, error) {
	var results []model.EvaluationResult
	skipped, err := readJSONL(path, func(line []byte) error {
		var r model.EvaluationResult
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		if r.QuestionID == "" {
			return fmt.Errorf("missing question_id")
		}
		results = append(results, r)
		return nil
	})
	return results, skipped, err
}

func readJSONL(path string, parse func([]byte) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	skipped := 0
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := parse(line); err != nil {
			slog.Warn("skipping malformed line", "path", path, "line", lineNum, "error", err)
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("reading %s: %w", path, err)
	}
	return skipped, nil
}
