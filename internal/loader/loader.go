// Package loader reads line-delimited JSON conversation exports. Lines are
// consumed incrementally so arbitrarily large exports can be processed, and
// malformed lines are skipped with a warning rather than aborting the load.
package loader

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/digdir/kunnskapsassistenten/internal/model"
)

// maxLineBytes bounds a single conversation record. Production exports stay
// well under this; anything larger is treated as malformed.
const maxLineBytes = 16 * 1024 * 1024

// line is the wire shape of one export record: conversation metadata plus
// the message list.
type line struct {
	Conversation *convMeta       `json:"conversation"`
	Messages     []model.Message `json:"messages"`
}

type convMeta struct {
	ID       *string `json:"id"`
	Topic    *string `json:"topic"`
	EntityID *string `json:"entityId"`
	UserID   *string `json:"userId"`
	Created  *int64  `json:"created"`
}

// Each reads conversations from path one line at a time and calls fn for
// each well-formed record, stopping after limit conversations (0 = no
// limit) or when fn returns an error. It returns the count of skipped
// malformed lines.
func Each(path string, limit int, fn func(model.Conversation) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNum := 0
	loaded := 0
	for scanner.Scan() {
		lineNum++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		conv, err := parseLine([]byte(raw))
		if err != nil {
			slog.Warn("skipping invalid conversation", "line", lineNum, "error", err)
			skipped++
			continue
		}

		if err := fn(conv); err != nil {
			return skipped, err
		}
		loaded++
		if limit > 0 && loaded >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("reading %s: %w", path, err)
	}

	slog.Info("loaded conversations", "path", path, "count", loaded, "skipped", skipped)
	return skipped, nil
}

// Load reads up to limit conversations (0 = all) into memory.
func Load(path string, limit int) ([]model.Conversation, int, error) {
	var conversations []model.Conversation
	skipped, err := Each(path, limit, func(c model.Conversation) error {
		conversations = append(conversations, c)
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return conversations, skipped, nil
}

func parseLine(raw []byte) (model.Conversation, error) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return model.Conversation{}, fmt.Errorf("malformed JSON: %w", err)
	}
	if l.Conversation == nil {
		return model.Conversation{}, fmt.Errorf("missing 'conversation' field")
	}
	if l.Messages == nil {
		return model.Conversation{}, fmt.Errorf("missing 'messages' field")
	}

	meta := l.Conversation
	switch {
	case meta.ID == nil || *meta.ID == "":
		return model.Conversation{}, fmt.Errorf("missing conversation field: id")
	case meta.Topic == nil:
		return model.Conversation{}, fmt.Errorf("missing conversation field: topic")
	case meta.EntityID == nil:
		return model.Conversation{}, fmt.Errorf("missing conversation field: entityId")
	case meta.Created == nil:
		return model.Conversation{}, fmt.Errorf("missing conversation field: created")
	}

	for i, m := range l.Messages {
		if m.ID == "" {
			return model.Conversation{}, fmt.Errorf("message %d: missing id", i)
		}
	}

	conv := model.Conversation{
		ID:       *meta.ID,
		Topic:    *meta.Topic,
		EntityID: *meta.EntityID,
		Created:  *meta.Created,
		Messages: l.Messages,
	}
	if meta.UserID != nil {
		conv.UserID = *meta.UserID
	}
	return conv, nil
}
