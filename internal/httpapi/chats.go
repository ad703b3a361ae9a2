// ABOUTME: Chat-scoped handlers: send a message, read paged history
// ABOUTME: Send returns only after the bus acknowledged the event

package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/AlexStMEfan/chatplatphorm/internal/event"
	"github.com/AlexStMEfan/chatplatphorm/internal/store"
)

// SendMessageRequest is the JSON request body for POST /chats/{chat_id}/messages.
type SendMessageRequest struct {
	Content   *string           `json:"content,omitempty"`
	MediaURLs []string          `json:"media_urls,omitempty"`
	MediaMeta map[string]string `json:"media_meta,omitempty"`
}

// SendMessageResponse confirms that the event reached the bus. The message
// becomes readable once the consumer has stored it.
type SendMessageResponse struct {
	MessageID uuid.UUID `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageResponse is one message in a history page. Field names match the
// bus event payload so clients deserialize both with one shape.
type MessageResponse struct {
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

// HistoryResponse is one page of chat history, newest first. PagingState,
// when present, continues the scan on the next request.
type HistoryResponse struct {
	Messages    []MessageResponse `json:"messages"`
	PagingState string            `json:"paging_state,omitempty"`
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
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

func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	hasContent := req.Content != nil && *req.Content != ""
	if !hasContent && len(req.MediaURLs) == 0 {
		return nil, errors.New("content or media_urls is required")
	}

	return &req, nil
}

// handleSendMessage handles POST /chats/{chat_id}/messages. It builds the
// canonical event with a fresh message id and publishes it; persistence and
// fan-out happen on the consumer side after this request has returned.
func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.identity(w, r)
	if !ok {
		return
	}

	chatID, err := uuid.Parse(r.PathValue("chat_id"))
	if err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid chat_id")
		return
	}

	req, err := parseSendRequest(r.Body)
	if err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := event.NewMessage(chatID, ac.UserID, req.Content, req.MediaURLs, req.MediaMeta)
	if err := a.publisher.Publish(r.Context(), ev); err != nil {
		a.logger.Error("publishing message failed", "chat_id", chatID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to publish message")
		return
	}

	a.writeJSON(w, http.StatusCreated, SendMessageResponse{
		MessageID: ev.MessageID,
		CreatedAt: ev.CreatedAt,
	})
}

// handleChatHistory handles GET /chats/{chat_id}/messages. The paging_state
// parameter is the base64 token from the previous page's response.
func (a *API) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(r.PathValue("chat_id"))
	if err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid chat_id")
		return
	}

	limit, ok := a.parseLimit(w, r, store.DefaultMessagePageSize, store.MaxMessagePageSize)
	if !ok {
		return
	}

	var pageState []byte
	if ps := r.URL.Query().Get("paging_state"); ps != "" {
		pageState, err = base64.URLEncoding.DecodeString(ps)
		if err != nil {
			a.sendJSONError(w, http.StatusBadRequest, "invalid paging_state")
			return
		}
	}

	messages, next, err := a.store.FetchRecentPaged(r.Context(), chatID, limit, pageState)
	if err != nil {
		a.logger.Error("fetching history failed", "chat_id", chatID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := HistoryResponse{Messages: make([]MessageResponse, 0, len(messages))}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, messageResponse(m))
	}
	if len(next) > 0 {
		resp.PagingState = base64.URLEncoding.EncodeToString(next)
	}

	a.writeJSON(w, http.StatusOK, resp)
}
