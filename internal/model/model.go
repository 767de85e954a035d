// Package model defines the data types flowing through the golden-questions
// pipeline: conversations as exported from the Kunnskapsassistenten API,
// golden questions produced by extraction, transparency records for dropped
// data, and scored evaluation results.
package model

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Chunk is one retrieval chunk attached to an assistant message.
type Chunk struct {
	ID       string `json:"id"`
	DocTitle string `json:"docTitle,omitempty"`
	DocNum   string `json:"docNum,omitempty"`
	Content  string `json:"content,omitempty"`
}

// FilterField is one facet the user selected in the assistant UI,
// e.g. field "type" with selected options ["Årsrapport"].
type FilterField struct {
	Field    string   `json:"field"`
	Selected []string `json:"selected-options"`
}

// FilterValue holds the structured facet selections attached to a message.
type FilterValue struct {
	Fields []FilterField `json:"fields"`
}

// Message is a single turn in a conversation. Role may be empty when the
// export carries no role for the message. Immutable once loaded.
type Message struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Role        string       `json:"role,omitempty"`
	Created     int64        `json:"created"`
	Chunks      []Chunk      `json:"chunks,omitempty"`
	FilterValue *FilterValue `json:"filterValue,omitempty"`
}

// Conversation is a complete thread as exported from production.
// Read-only downstream of the loader.
type Conversation struct {
	ID       string    `json:"id"`
	Topic    string    `json:"topic"`
	EntityID string    `json:"entityId"`
	UserID   string    `json:"userId"`
	Created  int64     `json:"created"`
	Messages []Message `json:"messages"`
}

// ContextMessage is a prior-turn excerpt kept alongside a reformulated
// question so the reformulation can be audited.
type ContextMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// GoldenQuestion is a standalone, context-independent question extracted
// from a production conversation. The ID is deterministic:
// "{conversation_id}_{user_message_index}", where the index counts only
// user-authored messages, zero-based.
type GoldenQuestion struct {
	ID               string              `json:"id"`
	Question         string              `json:"question"`
	OriginalQuestion string              `json:"original_question"`
	ConversationID   string              `json:"conversation_id"`
	ContextMessages  []ContextMessage    `json:"context_messages"`
	HasRetrieval     bool                `json:"has_retrieval"`
	UsageMode        UsageMode           `json:"usage_mode"`
	DocumentTypes    []string            `json:"document_types,omitempty"`
	SubjectTopics    []string            `json:"subject_topics"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
	QuestionChanged  bool                `json:"question_changed"`
	Filters          map[string][]string `json:"filters,omitempty"`
}

// MessagePreview is a truncated message included in dropped-conversation
// records so reviewers can judge the drop without the full export.
type MessagePreview struct {
	ID      string `json:"id"`
	Role    string `json:"role,omitempty"`
	Text    string `json:"text"`
	Created int64  `json:"created"`
}

// DroppedConversation records one conversation excluded by the quality
// filter. Write-once; never read back into the pipeline.
type DroppedConversation struct {
	ConversationID string           `json:"conversation_id"`
	Topic          string           `json:"topic"`
	UserID         string           `json:"user_id,omitempty"`
	Created        int64            `json:"created"`
	MessageCount   int              `json:"message_count"`
	DropReason     string           `json:"drop_reason"`
	Messages       []MessagePreview `json:"messages"`
}

// Match types recorded on dropped duplicates.
const (
	MatchExact    = "exact_match"
	MatchSemantic = "semantic_similarity"
)

// QuestionRef is the subset of a golden question kept in duplicate records.
type QuestionRef struct {
	Text           string `json:"text"`
	OriginalText   string `json:"original_text"`
	ConversationID string `json:"conversation_id"`
	HasRetrieval   bool   `json:"has_retrieval"`
}

// DroppedDuplicate records one question removed by deduplication, pairing
// it with the retained original and the similarity that caused the drop.
type DroppedDuplicate struct {
	DroppedQuestion QuestionRef `json:"dropped_question"`
	KeptOriginal    QuestionRef `json:"kept_original"`
	SimilarityScore float64     `json:"similarity_score"`
	MatchType       string      `json:"match_type"`
	NormalizedForm  string      `json:"normalized_form"`
	DropReason      string      `json:"drop_reason"`
}

// Ref extracts the duplicate-record view of a question.
func (q GoldenQuestion) Ref() QuestionRef {
	return QuestionRef{
		Text:           q.Question,
		OriginalText:   q.OriginalQuestion,
		ConversationID: q.ConversationID,
		HasRetrieval:   q.HasRetrieval,
	}
}

// FailedQuestion records a question whose reformulation or categorization
// exhausted its retry budget.
type FailedQuestion struct {
	ID               string `json:"id"`
	ConversationID   string `json:"conversation_id"`
	Question         string `json:"question,omitempty"`
	OriginalQuestion string `json:"original_question"`
	FailureStage     string `json:"failure_stage"`
	FailureReason    string `json:"failure_reason"`
}

// AnswerChunk is a retrieved context chunk returned by the RAG system for
// one evaluated question.
type AnswerChunk struct {
	ChunkID  string `json:"chunk_id"`
	DocTitle string `json:"doc_title"`
	Content  string `json:"content"`
}

// MetricScore is the outcome of one reference-free metric on one answer.
// Score is nil when the metric evaluation itself failed; such records carry
// Success=false and are excluded from aggregation, never coerced to 0.
type MetricScore struct {
	Score     *float64 `json:"score"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// EvaluationResult is one scored question-answer-context triple, produced by
// querying the RAG system and running metrics over the response.
type EvaluationResult struct {
	QuestionID string                 `json:"question_id"`
	Question   string                 `json:"question"`
	Answer     string                 `json:"answer"`
	Chunks     []AnswerChunk          `json:"chunks"`
	Metrics    map[string]MetricScore `json:"metrics"`
	Metadata   map[string]any         `json:"metadata,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// SubjectTopics reads the subject_topics list carried in the result metadata.
func (r EvaluationResult) SubjectTopics() []string {
	raw, ok := r.Metadata["subject_topics"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		topics := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				topics = append(topics, s)
			}
		}
		return topics
	}
	return nil
}

// ResultUsageMode reads the usage_mode carried in the result metadata.
// Returns false when the metadata has no usage mode.
func (r EvaluationResult) ResultUsageMode() (UsageMode, bool) {
	raw, ok := r.Metadata["usage_mode"]
	if !ok {
		return UsageMode{}, false
	}
	switch v := raw.(type) {
	case UsageMode:
		return v, true
	case map[string]any:
		um := UsageMode{
			DocumentScope:    DocumentScope(stringAt(v, "document_scope")),
			OperationType:    OperationType(stringAt(v, "operation_type")),
			OutputComplexity: OutputComplexity(stringAt(v, "output_complexity")),
		}
		return um, true
	}
	return UsageMode{}, false
}

func stringAt(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
