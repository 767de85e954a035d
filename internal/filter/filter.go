// Package filter rejects low-signal conversations before question
// extraction. Every rejection carries a drop record so excluded data stays
// auditable.
package filter

import (
	"log/slog"
	"strings"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

// placeholderTopic is the assistant's default title for threads the user
// never renamed.
const placeholderTopic = "Ny tråd"

// previewMessages is how many messages a drop record keeps.
const previewMessages = 5

// previewTextLimit truncates message text in drop records.
const previewTextLimit = 200

// Result splits a conversation batch into kept conversations and drop
// records for the rest.
type Result struct {
	Kept    []model.Conversation
	Dropped []model.DroppedConversation
}

// Filter applies the quality rules to conversations in order. A conversation
// with at least one non-empty user message survives; everything else is
// dropped with a reason. Pure function: no side effects beyond the returned
// drop list.
func Filter(conversations []model.Conversation) Result {
	var res Result
	for _, conv := range conversations {
		if ShouldProcess(conv) {
			res.Kept = append(res.Kept, conv)
			continue
		}
		res.Dropped = append(res.Dropped, dropRecord(conv, DropReason(conv)))
	}

	slog.Info("filtered conversations",
		"total", len(conversations),
		"kept", len(res.Kept),
		"dropped", len(res.Dropped),
	)
	return res
}

// ShouldProcess reports whether the conversation has at least one user
// message with non-whitespace text. A missing role never counts as a user
// message.
func ShouldProcess(conv model.Conversation) bool {
	for _, msg := range conv.Messages {
		if msg.Role == "user" && strings.TrimSpace(msg.Text) != "" {
			return true
		}
	}
	return false
}

// DropReason determines why a conversation was excluded. Rules are checked
// in order; the first match wins.
func DropReason(conv model.Conversation) string {
	hasUserText := false
	hasUserRole := false
	onlySystemOrNoRole := true
	allEmpty := true

	for _, msg := range conv.Messages {
		if msg.Role == "user" {
			hasUserRole = true
			if strings.TrimSpace(msg.Text) != "" {
				hasUserText = true
			}
		}
		if msg.Role != "system" && msg.Role != "" {
			onlySystemOrNoRole = false
		}
		if strings.TrimSpace(msg.Text) != "" {
			allEmpty = false
		}
	}

	switch {
	case conv.Topic == placeholderTopic && !hasUserText:
		return "Ny tråd with no user messages"
	case !hasUserRole:
		return "No user messages"
	case onlySystemOrNoRole:
		return "Only system messages"
	case allEmpty:
		return "All messages empty"
	case !hasUserText:
		// User messages exist but all are whitespace.
		return "No user messages"
	}
	return "Other (see conversation details)"
}

func dropRecord(conv model.Conversation, reason string) model.DroppedConversation {
	rec := model.DroppedConversation{
		ConversationID: conv.ID,
		Topic:          conv.Topic,
		UserID:         conv.UserID,
		Created:        conv.Created,
		MessageCount:   len(conv.Messages),
		DropReason:     reason,
	}

	for i, msg := range conv.Messages {
		if i >= previewMessages {
			break
		}
		text := msg.Text
		if runes := []rune(text); len(runes) > previewTextLimit {
			text = string(runes[:previewTextLimit]) + "..."
		}
		rec.Messages = append(rec.Messages, model.MessagePreview{
			ID:      msg.ID,
			Role:    msg.Role,
			Text:    text,
			Created: msg.Created,
		})
	}
	return rec
}
