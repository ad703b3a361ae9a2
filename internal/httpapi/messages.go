// ABOUTME: Message-scoped handlers: edit, delete, restore, media, history
// ABOUTME: Maps store sentinel errors onto HTTP status codes

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/AlexStMEfan/chatplatphorm/internal/store"
)

// EditMessageRequest is the JSON request body for PUT /messages/{message_id}.
type EditMessageRequest struct {
	NewContent *string `json:"new_content"`
}

// AttachMediaRequest is the JSON request body for POST /messages/{message_id}/media.
type AttachMediaRequest struct {
	MediaURLs []string          `json:"media_urls"`
	MediaMeta map[string]string `json:"media_meta,omitempty"`
}

// EditResponse is one historical revision of a message.
type EditResponse struct {
	EditID     uuid.UUID         `json:"edit_id"`
	MessageID  uuid.UUID         `json:"message_id"`
	EditedAt   time.Time         `json:"edited_at"`
	Editor     uuid.UUID         `json:"editor"`
	OldContent string            `json:"old_content"`
	NewContent string            `json:"new_content"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// EditsResponse is the JSON response for GET /messages/{message_id}/edits.
type EditsResponse struct {
	MessageID uuid.UUID      `json:"message_id"`
	Edits     []EditResponse `json:"edits"`
}

// messageID parses the message_id path segment or writes a 400.
func (a *API) messageID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("message_id"))
	if err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid message_id")
		return uuid.Nil, false
	}
	return id, true
}

// storeError translates a store failure into an HTTP response.
func (a *API) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.sendJSONError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, store.ErrPermissionDenied):
		a.sendJSONError(w, http.StatusForbidden, "permission denied")
	default:
		a.logger.Error(op+" failed", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleEditMessage handles PUT /messages/{message_id}. An edit that does
// not change the content is accepted without recording a revision.
func (a *API) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.identity(w, r)
	if !ok {
		return
	}
	messageID, ok := a.messageID(w, r)
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.NewContent == nil {
		a.sendJSONError(w, http.StatusBadRequest, "new_content is required")
		return
	}

	if err := a.store.EditWithHistory(r.Context(), messageID, *req.NewContent, ac.UserID); err != nil {
		a.storeError(w, "editing message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteMessage handles DELETE /messages/{message_id}. Only the
// author or an admin may delete; the message stays readable in history
// with its deleted flag set.
func (a *API) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.identity(w, r)
	if !ok {
		return
	}
	messageID, ok := a.messageID(w, r)
	if !ok {
		return
	}

	if err := a.store.SoftDeleteMessage(r.Context(), messageID, ac.UserID, ac.IsAdmin()); err != nil {
		a.storeError(w, "deleting message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRestoreMessage handles POST /messages/{message_id}/restore under
// the same authorisation rule as delete.
func (a *API) handleRestoreMessage(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.identity(w, r)
	if !ok {
		return
	}
	messageID, ok := a.messageID(w, r)
	if !ok {
		return
	}

	if err := a.store.RestoreMessage(r.Context(), messageID, ac.UserID, ac.IsAdmin()); err != nil {
		a.storeError(w, "restoring message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHardDeleteMessage handles DELETE /messages/{message_id}/permanent.
// The route runs behind the admin middleware; the store double-checks.
func (a *API) handleHardDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ac, ok := a.identity(w, r)
	if !ok {
		return
	}
	messageID, ok := a.messageID(w, r)
	if !ok {
		return
	}

	if err := a.store.HardDeleteMessage(r.Context(), messageID, ac.IsAdmin()); err != nil {
		a.storeError(w, "hard deleting message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAttachMedia handles POST /messages/{message_id}/media. Attachments
// are additive: existing urls and metadata entries are never removed.
func (a *API) handleAttachMedia(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.identity(w, r); !ok {
		return
	}
	messageID, ok := a.messageID(w, r)
	if !ok {
		return
	}

	var req AttachMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.MediaURLs) == 0 {
		a.sendJSONError(w, http.StatusBadRequest, "media_urls is required")
		return
	}

	if err := a.store.AttachMedia(r.Context(), messageID, req.MediaURLs, req.MediaMeta); err != nil {
		a.storeError(w, "attaching media", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMessageEdits handles GET /messages/{message_id}/edits. Revisions
// come back oldest first; a message with no edits yields an empty list.
func (a *API) handleMessageEdits(w http.ResponseWriter, r *http.Request) {
	messageID, ok := a.messageID(w, r)
	if !ok {
		return
	}

	limit, ok := a.parseLimit(w, r, store.DefaultEditPageSize, store.MaxEditPageSize)
	if !ok {
		return
	}

	edits, err := a.store.FetchEdits(r.Context(), messageID, limit)
	if err != nil {
		a.logger.Error("fetching edits failed", "message_id", messageID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := EditsResponse{MessageID: messageID, Edits: make([]EditResponse, 0, len(edits))}
	for _, e := range edits {
		resp.Edits = append(resp.Edits, EditResponse{
			EditID:     e.EditID,
			MessageID:  e.MessageID,
			EditedAt:   e.EditedAt,
			Editor:     e.Editor,
			OldContent: e.OldContent,
			NewContent: e.NewContent,
			Meta:       e.Meta,
		})
	}

	a.writeJSON(w, http.StatusOK, resp)
}
