// ABOUTME: In-memory fan-out of chat events to live WebSocket sessions
// ABOUTME: Rooms are per-chat subscriber sets that exist only while occupied

package fanout

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AlexStMEfan/chatplatphorm/internal/event"
)

// ErrManagerClosed is returned by Subscribe after shutdown has begun.
var ErrManagerClosed = errors.New("fanout manager closed")

// Subscription ties one session to one room. The session reads events from
// Receiver and hands the whole subscription back to Unsubscribe on teardown.
type Subscription struct {
	ID       string
	UserID   uuid.UUID
	ChatID   uuid.UUID
	Receiver *Receiver
}

// Manager provides in-memory pub/sub for decoded chat events. Subscribers
// register for a chat and receive events as the consumer persists them. A
// room is created on first subscribe and removed when its last subscriber
// leaves. The manager also tracks which chats each user is currently
// receiving, across all of that user's sessions.
type Manager struct {
	mu        sync.RWMutex
	rooms     map[uuid.UUID]map[string]*Receiver // chatID -> subID -> receiver
	userChats map[uuid.UUID]map[uuid.UUID]int    // userID -> chatID -> subscription count
	capacity  int
	logger    *slog.Logger
	closed    bool
}

// NewManager creates a fan-out manager. Pass nil logger for default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		rooms:     make(map[uuid.UUID]map[string]*Receiver),
		userChats: make(map[uuid.UUID]map[uuid.UUID]int),
		capacity:  DefaultReceiverCapacity,
		logger:    logger.With("component", "fanout"),
	}
}

// Subscribe registers a session for events on the given chat. The returned
// subscription's receiver buffers up to the manager's capacity; overflow
// drops the oldest events and surfaces a LagError to the reader.
func (m *Manager) Subscribe(userID, chatID uuid.UUID) (*Subscription, error) {
	sub := &Subscription{
		ID:       uuid.New().String(),
		UserID:   userID,
		ChatID:   chatID,
		Receiver: newReceiver(m.capacity),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	room, ok := m.rooms[chatID]
	if !ok {
		room = make(map[string]*Receiver)
		m.rooms[chatID] = room
	}
	room[sub.ID] = sub.Receiver

	chats, ok := m.userChats[userID]
	if !ok {
		chats = make(map[uuid.UUID]int)
		m.userChats[userID] = chats
	}
	chats[chatID]++
	m.mu.Unlock()

	m.logger.Debug("subscriber added",
		"chat_id", chatID,
		"user_id", userID,
		"sub_id", sub.ID)

	return sub, nil
}

// Unsubscribe removes a subscription and closes its receiver. Empty rooms
// and empty user entries are deleted. Safe to call more than once.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	room, ok := m.rooms[sub.ChatID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, exists := room[sub.ID]; !exists {
		m.mu.Unlock()
		return
	}
	delete(room, sub.ID)
	if len(room) == 0 {
		delete(m.rooms, sub.ChatID)
	}

	if chats, ok := m.userChats[sub.UserID]; ok {
		chats[sub.ChatID]--
		if chats[sub.ChatID] <= 0 {
			delete(chats, sub.ChatID)
		}
		if len(chats) == 0 {
			delete(m.userChats, sub.UserID)
		}
	}
	m.mu.Unlock()

	sub.Receiver.Close()

	m.logger.Debug("subscriber removed",
		"chat_id", sub.ChatID,
		"user_id", sub.UserID,
		"sub_id", sub.ID)
}

// Broadcast delivers an event to every subscriber of its chat. Never blocks:
// slow receivers overwrite their oldest buffered event instead. Returns the
// number of receivers the event was pushed to.
func (m *Manager) Broadcast(ev *event.ChatEvent) int {
	m.mu.RLock()
	room, ok := m.rooms[ev.ChatID]
	if !ok || len(room) == 0 {
		m.mu.RUnlock()
		return 0
	}

	// Copy receivers under read lock to avoid holding it during pushes
	targets := make([]*Receiver, 0, len(room))
	for _, r := range room {
		targets = append(targets, r)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, r := range targets {
		if r.Push(ev) {
			delivered++
		}
	}
	return delivered
}

// UserChats returns the chats the user currently has live subscriptions to.
func (m *Manager) UserChats(userID uuid.UUID) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats, ok := m.userChats[userID]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(chats))
	for chatID := range chats {
		out = append(out, chatID)
	}
	return out
}

// RoomCount returns the number of chats with at least one subscriber.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// SubscriberCount returns the number of subscribers in a chat's room.
func (m *Manager) SubscriberCount(chatID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[chatID])
}

// Close shuts down the manager and closes every subscriber's receiver.
// Subsequent Subscribe calls fail with ErrManagerClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	var receivers []*Receiver
	for chatID, room := range m.rooms {
		for subID, r := range room {
			receivers = append(receivers, r)
			delete(room, subID)
		}
		delete(m.rooms, chatID)
	}
	for userID := range m.userChats {
		delete(m.userChats, userID)
	}
	m.mu.Unlock()

	for _, r := range receivers {
		r.Close()
	}

	m.logger.Debug("fanout manager closed")
}
