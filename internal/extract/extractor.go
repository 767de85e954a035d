// Package extract pulls user-authored questions out of conversations and
// rewrites context-dependent ones into standalone form through an injected
// reformulation capability.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/digdir/kunnskapsassistenten/internal/config"
	"github.com/digdir/kunnskapsassistenten/internal/model"
	"github.com/digdir/kunnskapsassistenten/internal/retry"
)

// contextWindow is how many preceding messages accompany a reformulation
// request and how many context excerpts a golden question records.
const contextWindow = 3

// Reformulator rewrites a context-dependent question into standalone form
// given the preceding messages. Externally this is a language-model call;
// tests inject stubs.
type Reformulator interface {
	Reformulate(ctx context.Context, question string, previous []model.Message) (string, error)
}

// ReformulateFunc adapts a function to the Reformulator interface.
type ReformulateFunc func(ctx context.Context, question string, previous []model.Message) (string, error)

func (f ReformulateFunc) Reformulate(ctx context.Context, question string, previous []model.Message) (string, error) {
	return f(ctx, question, previous)
}

// knownDocumentTypes is the closed set of document types the assistant's
// type facet offers. Unknown values are kept with a warning, never dropped.
var knownDocumentTypes = map[string]bool{
	"Evaluering":                 true,
	"Instruks":                   true,
	"Melding til Stortinget":     true,
	"Proposisjon til Stortinget": true,
	"Statusrapport":              true,
	"Strategi/plan":              true,
	"Tildelingsbrev":             true,
	"Årsrapport":                 true,
}

// documentTypeCorrections normalizes misspellings seen in production facets.
var documentTypeCorrections = map[string]string{
	"Årsrapprt": "Årsrapport",
}

// Extractor walks conversations and produces golden questions.
type Extractor struct {
	reformulator Reformulator
	triggers     config.TriggerConfig
	policy       retry.Policy
}

// New creates an Extractor. A nil reformulator disables reformulation;
// every question keeps its original text.
func New(reformulator Reformulator, triggers config.TriggerConfig, policy retry.Policy) *Extractor {
	return &Extractor{
		reformulator: reformulator,
		triggers:     triggers,
		policy:       policy,
	}
}

// Result holds the questions extracted from one conversation plus records
// for reformulations that fell back to the original text.
type Result struct {
	Questions []model.GoldenQuestion
	Failed    []model.FailedQuestion
}

// Extract walks the conversation's messages in order and produces one
// golden question per non-empty user message. IDs are deterministic:
// "{conversation_id}_{user_message_index}" with the index counting only
// user messages. Reformulation failures fall back to the original question
// text after the retry budget; they never fail the conversation.
func (e *Extractor) Extract(ctx context.Context, conv model.Conversation) Result {
	var res Result

	filters := extractFilters(conv.Messages)
	docTypes := filters["type"]

	userIdx := 0
	for i, msg := range conv.Messages {
		if msg.Role != "user" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		original := strings.TrimSpace(msg.Text)
		id := QuestionID(conv.ID, userIdx)

		standalone := original
		var contextMsgs []model.ContextMessage
		if e.needsReformulation(original, userIdx) && e.reformulator != nil {
			previous := conv.Messages[:i]
			reformulated, err := retry.DoWithResult(ctx, e.policy, func() (string, error) {
				return e.reformulator.Reformulate(ctx, original, tail(previous, contextWindow))
			})
			if err != nil {
				slog.Warn("reformulation failed, keeping original question",
					"question_id", id, "error", err)
				res.Failed = append(res.Failed, model.FailedQuestion{
					ID:               id,
					ConversationID:   conv.ID,
					OriginalQuestion: original,
					FailureStage:     "reformulation",
					FailureReason:    err.Error(),
				})
			} else if strings.TrimSpace(reformulated) != "" {
				standalone = strings.TrimSpace(reformulated)
			}
			contextMsgs = contextExcerpts(previous)
		}

		res.Questions = append(res.Questions, model.GoldenQuestion{
			ID:               id,
			Question:         standalone,
			OriginalQuestion: original,
			ConversationID:   conv.ID,
			ContextMessages:  contextMsgs,
			HasRetrieval:     hasRetrieval(conv.Messages, i),
			DocumentTypes:    docTypes,
			SubjectTopics:    []string{},
			Metadata: map[string]any{
				"topic":     conv.Topic,
				"entity_id": conv.EntityID,
				"user_id":   conv.UserID,
				"created":   msg.Created,
			},
			QuestionChanged: standalone != original,
			Filters:         filters,
		})
		userIdx++
	}

	slog.Debug("extracted questions",
		"conversation_id", conv.ID,
		"questions", len(res.Questions),
		"reformulation_fallbacks", len(res.Failed),
	)
	return res
}

// QuestionID builds the deterministic golden-question identifier.
func QuestionID(conversationID string, userMessageIndex int) string {
	return fmt.Sprintf("%s_%d", conversationID, userMessageIndex)
}

// needsReformulation decides whether a question depends on conversation
// context. The first user message never does; later ones do when they carry
// a pronoun or context-marker trigger word, or fall under the word-count
// threshold.
func (e *Extractor) needsReformulation(question string, userIdx int) bool {
	if userIdx == 0 {
		return false
	}

	words := fieldsLower(question)
	if len(words) < e.triggers.MinWords {
		return true
	}
	for _, w := range words {
		if slices.Contains(e.triggers.Pronouns, w) || slices.Contains(e.triggers.ContextMarkers, w) {
			return true
		}
	}
	return false
}

// fieldsLower splits question text into lowercased words with surrounding
// punctuation stripped.
func fieldsLower(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !isWordRune(r)
		})
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func isWordRune(r rune) bool {
	return r == '-' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		r > 127
}

// tail returns the last n elements of msgs.
func tail(msgs []model.Message, n int) []model.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// contextExcerpts keeps the last non-system, non-empty messages as audit
// context on the golden question.
func contextExcerpts(previous []model.Message) []model.ContextMessage {
	var out []model.ContextMessage
	for _, m := range tail(previous, contextWindow) {
		if m.Role == "system" || strings.TrimSpace(m.Text) == "" {
			continue
		}
		out = append(out, model.ContextMessage{Role: m.Role, Text: m.Text})
	}
	return out
}

// hasRetrieval reports whether the assistant message following the user
// message at index i carried retrieval chunks.
func hasRetrieval(messages []model.Message, i int) bool {
	for j := i + 1; j < len(messages); j++ {
		if messages[j].Role == "assistant" {
			return len(messages[j].Chunks) > 0
		}
	}
	return false
}

// extractFilters collects the facet selections from all messages, grouped
// by field name. Document-type values get spelling corrections applied;
// unknown types are kept with a warning.
func extractFilters(messages []model.Message) map[string][]string {
	filters := make(map[string][]string)

	for _, msg := range messages {
		if msg.FilterValue == nil {
			continue
		}
		for _, field := range msg.FilterValue.Fields {
			if field.Field == "" || len(field.Selected) == 0 {
				continue
			}
			for _, option := range field.Selected {
				value := option
				if field.Field == "type" {
					if corrected, ok := documentTypeCorrections[value]; ok {
						value = corrected
					}
					if !knownDocumentTypes[value] {
						slog.Warn("unknown document type, preserving for analysis", "type", value)
					}
				}
				if !slices.Contains(filters[field.Field], value) {
					filters[field.Field] = append(filters[field.Field], value)
				}
			}
		}
	}

	if len(filters) == 0 {
		return nil
	}
	return filters
}
