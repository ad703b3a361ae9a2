// ABOUTME: ChatEvent wire type carried on the bus and pushed to sockets
// ABOUTME: A JSON message snapshot with conversions to and from store rows

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AlexStMEfan/chatplatphorm/internal/store"
)

// ChatEvent is a message snapshot at the instant of publication. It is the
// value of every bus record and the payload of every outbound socket frame.
// Timestamps are RFC 3339 UTC with millisecond resolution.
type ChatEvent struct {
	ChatID    uuid.UUID         `json:"chat_id"`
	MessageID uuid.UUID         `json:"message_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Content   *string           `json:"content,omitempty"`
	MediaURLs []string          `json:"media_urls,omitempty"`
	MediaMeta map[string]string `json:"media_meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	EditedAt  *time.Time        `json:"edited_at,omitempty"`
	EditedBy  *uuid.UUID        `json:"edited_by,omitempty"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
	IsDeleted bool              `json:"is_deleted"`
	Version   int64             `json:"version"`
}

// NewMessage builds the event for a freshly sent message: a new message id,
// CreatedAt stamped now (UTC, millisecond resolution), version 0.
func NewMessage(chatID, userID uuid.UUID, content *string, mediaURLs []string, mediaMeta map[string]string) *ChatEvent {
	return &ChatEvent{
		ChatID:    chatID,
		MessageID: uuid.New(),
		UserID:    userID,
		Content:   content,
		MediaURLs: mediaURLs,
		MediaMeta: mediaMeta,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Encode serialises the event to its JSON wire form.
func (e *ChatEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding chat event: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload. Payloads missing any of the three ids or the
// creation time are rejected; the consumer treats that as a poison pill.
func Decode(data []byte) (*ChatEvent, error) {
	var e ChatEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding chat event: %w", err)
	}
	if e.ChatID == uuid.Nil || e.MessageID == uuid.Nil || e.UserID == uuid.Nil {
		return nil, errors.New("chat event missing required ids")
	}
	if e.CreatedAt.IsZero() {
		return nil, errors.New("chat event missing created_at")
	}
	return &e, nil
}

// Message converts the snapshot into a store row.
func (e *ChatEvent) Message() *store.Message {
	return &store.Message{
		ChatID:    e.ChatID,
		CreatedAt: e.CreatedAt,
		MessageID: e.MessageID,
		UserID:    e.UserID,
		Content:   e.Content,
		MediaURLs: e.MediaURLs,
		MediaMeta: e.MediaMeta,
		IsDeleted: e.IsDeleted,
		DeletedAt: e.DeletedAt,
		EditedAt:  e.EditedAt,
		EditedBy:  e.EditedBy,
		Version:   e.Version,
	}
}

// FromMessage snapshots a store row into an event.
func FromMessage(m *store.Message) *ChatEvent {
	return &ChatEvent{
		ChatID:    m.ChatID,
		MessageID: m.MessageID,
		UserID:    m.UserID,
		Content:   m.Content,
		MediaURLs: m.MediaURLs,
		MediaMeta: m.MediaMeta,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
		EditedBy:  m.EditedBy,
		DeletedAt: m.DeletedAt,
		IsDeleted: m.IsDeleted,
		Version:   m.Version,
	}
}
