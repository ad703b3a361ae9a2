// ABOUTME: In-memory Store implementation for testing
// ABOUTME: Mirrors every contract of the Scylla store, including paging

package store

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store for tests. It honours the same contracts
// as the Scylla implementation: dual-view consistency, no-op edits, clamped
// limits, and opaque paging state.
type MockStore struct {
	mu          sync.RWMutex
	byID        map[uuid.UUID]*Message
	byChat      map[uuid.UUID][]*Message
	edits       map[uuid.UUID][]*MessageEdit
	memberships map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		byID:        make(map[uuid.UUID]*Message),
		byChat:      make(map[uuid.UUID][]*Message),
		edits:       make(map[uuid.UUID][]*MessageEdit),
		memberships: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// copyMessage returns a deep copy so callers cannot mutate stored state.
func copyMessage(msg *Message) *Message {
	c := *msg
	if msg.Content != nil {
		content := *msg.Content
		c.Content = &content
	}
	if msg.MediaURLs != nil {
		c.MediaURLs = append([]string(nil), msg.MediaURLs...)
	}
	if msg.MediaMeta != nil {
		c.MediaMeta = make(map[string]string, len(msg.MediaMeta))
		for k, v := range msg.MediaMeta {
			c.MediaMeta[k] = v
		}
	}
	if msg.DeletedAt != nil {
		t := *msg.DeletedAt
		c.DeletedAt = &t
	}
	if msg.EditedAt != nil {
		t := *msg.EditedAt
		c.EditedAt = &t
	}
	if msg.EditedBy != nil {
		id := *msg.EditedBy
		c.EditedBy = &id
	}
	return &c
}

func copyEdit(e *MessageEdit) *MessageEdit {
	c := *e
	if e.Meta != nil {
		c.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

// InsertMessage stores the message in both views. The real store pins the
// insert timestamp to the message creation time, so a redelivered insert
// cannot roll back state changed by later updates; the mock mirrors that by
// ignoring inserts whose snapshot is behind the stored row.
func (m *MockStore) InsertMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyMessage(msg)
	if prev, ok := m.byID[stored.MessageID]; ok {
		if staleSnapshot(prev, stored) {
			return nil
		}
		m.removeFromChat(prev)
	}
	m.byID[stored.MessageID] = stored
	m.byChat[stored.ChatID] = append(m.byChat[stored.ChatID], stored)
	return nil
}

// staleSnapshot reports whether the stored row holds state newer than the
// incoming snapshot: a higher version, a deletion flag that changed after
// the snapshot was taken, or media attached since.
func staleSnapshot(stored, incoming *Message) bool {
	if stored.Version > incoming.Version {
		return true
	}
	if stored.Version == incoming.Version {
		if stored.IsDeleted != incoming.IsDeleted {
			return true
		}
		if len(stored.MediaURLs) > len(incoming.MediaURLs) {
			return true
		}
	}
	return false
}

func (m *MockStore) removeFromChat(msg *Message) {
	rows := m.byChat[msg.ChatID]
	for i, r := range rows {
		if r.MessageID == msg.MessageID {
			m.byChat[msg.ChatID] = append(rows[:i], rows[i+1:]...)
			return
		}
	}
}

// GetMessageByID returns a copy of the message or ErrNotFound.
func (m *MockStore) GetMessageByID(ctx context.Context, messageID uuid.UUID) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.byID[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// FetchRecentPaged pages through the chat newest-first. The paging state is
// a big-endian offset into the ordered view.
func (m *MockStore) FetchRecentPaged(ctx context.Context, chatID uuid.UUID, limit int, pageState []byte) ([]*Message, []byte, error) {
	limit = clampLimit(limit, DefaultMessagePageSize, MaxMessagePageSize)

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := append([]*Message(nil), m.byChat[chatID]...)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].MessageID.String() < rows[j].MessageID.String()
	})

	offset := 0
	if len(pageState) == 8 {
		offset = int(binary.BigEndian.Uint64(pageState))
	}
	if offset >= len(rows) {
		return []*Message{}, nil, nil
	}

	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}

	page := make([]*Message, 0, end-offset)
	for _, r := range rows[offset:end] {
		page = append(page, copyMessage(r))
	}

	var next []byte
	if end < len(rows) {
		next = make([]byte, 8)
		binary.BigEndian.PutUint64(next, uint64(end))
	}
	return page, next, nil
}

// EditWithHistory applies the edit contract: no-op on identical content,
// history row appended before the state changes, version incremented by one.
func (m *MockStore) EditWithHistory(ctx context.Context, messageID uuid.UUID, newContent string, editor uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[messageID]
	if !ok {
		return ErrNotFound
	}

	if msg.Content != nil && *msg.Content == newContent {
		return nil
	}

	var oldContent string
	if msg.Content != nil {
		oldContent = *msg.Content
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	m.edits[messageID] = append(m.edits[messageID], &MessageEdit{
		MessageID:  messageID,
		EditID:     uuid.New(),
		EditedAt:   now,
		Editor:     editor,
		OldContent: oldContent,
		NewContent: newContent,
		Meta:       map[string]string{},
	})

	content := newContent
	msg.Content = &content
	msg.EditedAt = &now
	editorCopy := editor
	msg.EditedBy = &editorCopy
	msg.Version++
	return nil
}

// AttachMedia appends urls and merges meta.
func (m *MockStore) AttachMedia(ctx context.Context, messageID uuid.UUID, urls []string, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[messageID]
	if !ok {
		return ErrNotFound
	}

	msg.MediaURLs = append(msg.MediaURLs, urls...)
	if len(meta) > 0 {
		if msg.MediaMeta == nil {
			msg.MediaMeta = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			msg.MediaMeta[k] = v
		}
	}
	return nil
}

// SoftDeleteMessage marks the message deleted. Idempotent.
func (m *MockStore) SoftDeleteMessage(ctx context.Context, messageID, requester uuid.UUID, isAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[messageID]
	if !ok {
		return ErrNotFound
	}
	if !canModify(msg, requester, isAdmin) {
		return ErrPermissionDenied
	}
	if msg.IsDeleted {
		return nil
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	msg.IsDeleted = true
	msg.DeletedAt = &now
	return nil
}

// RestoreMessage reverses a soft delete. Idempotent.
func (m *MockStore) RestoreMessage(ctx context.Context, messageID, requester uuid.UUID, isAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[messageID]
	if !ok {
		return ErrNotFound
	}
	if !canModify(msg, requester, isAdmin) {
		return ErrPermissionDenied
	}
	msg.IsDeleted = false
	msg.DeletedAt = nil
	return nil
}

// HardDeleteMessage removes the message and its history. Admin only.
func (m *MockStore) HardDeleteMessage(ctx context.Context, messageID uuid.UUID, isAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isAdmin {
		return ErrPermissionDenied
	}
	msg, ok := m.byID[messageID]
	if !ok {
		return ErrNotFound
	}

	m.removeFromChat(msg)
	delete(m.byID, messageID)
	delete(m.edits, messageID)
	return nil
}

// FetchEdits returns copies of the history rows, oldest first.
func (m *MockStore) FetchEdits(ctx context.Context, messageID uuid.UUID, limit int) ([]*MessageEdit, error) {
	limit = clampLimit(limit, DefaultEditPageSize, MaxEditPageSize)

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.edits[messageID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	result := make([]*MessageEdit, 0, len(rows))
	for _, e := range rows {
		result = append(result, copyEdit(e))
	}
	return result, nil
}

// GetUserChats returns the chats the user belongs to.
func (m *MockStore) GetUserChats(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.memberships[userID]
	chats := make([]uuid.UUID, 0, len(set))
	for chatID := range set {
		chats = append(chats, chatID)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].String() < chats[j].String() })
	return chats, nil
}

// IsUserInChat reports membership.
func (m *MockStore) IsUserInChat(ctx context.Context, userID, chatID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.memberships[userID][chatID]
	return ok, nil
}

// AddUserToChat records membership. Idempotent.
func (m *MockStore) AddUserToChat(ctx context.Context, userID, chatID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memberships[userID] == nil {
		m.memberships[userID] = make(map[uuid.UUID]struct{})
	}
	m.memberships[userID][chatID] = struct{}{}
	return nil
}

// Ping always succeeds; it exists so the mock satisfies readiness probes.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
