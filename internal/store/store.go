// ABOUTME: Store interface and message types shared by all storage backends
// ABOUTME: Defines messages, edit history, membership, and sentinel errors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested message or edit does not exist.
var ErrNotFound = errors.New("not found")

// ErrPermissionDenied is returned when the requester is neither the author
// nor an admin for an operation that requires ownership.
var ErrPermissionDenied = errors.New("permission denied")

// Page size bounds. Requests outside the range are clamped, a zero or
// negative limit selects the default.
const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 200
	DefaultEditPageSize    = 50
	MaxEditPageSize        = 500
)

// Message is one chat message. The triple (ChatID, CreatedAt, MessageID) is
// the primary key of the partitioned table; MessageID alone addresses the
// point-lookup table. CreatedAt is assigned at send time, UTC, millisecond
// resolution, and never changes afterwards.
type Message struct {
	ChatID    uuid.UUID
	CreatedAt time.Time
	MessageID uuid.UUID
	UserID    uuid.UUID
	Content   *string
	MediaURLs []string
	MediaMeta map[string]string
	IsDeleted bool
	DeletedAt *time.Time
	EditedAt  *time.Time
	EditedBy  *uuid.UUID
	Version   int64
}

// MessageEdit is one historical revision of a message. Exactly one row is
// appended per accepted content-changing edit, before the message rows are
// updated.
type MessageEdit struct {
	MessageID  uuid.UUID
	EditID     uuid.UUID
	EditedAt   time.Time
	Editor     uuid.UUID
	OldContent string
	NewContent string
	Meta       map[string]string
}

// Store is the persistence interface for messages, edit history, and chat
// membership. Implementations must keep the partitioned table and the
// point-lookup table consistent on every mutation.
type Store interface {
	// InsertMessage writes the message to the partitioned table and then to
	// the point-lookup table. Both writes are idempotent on the full primary
	// key, so the caller may retry the whole operation on partial failure.
	InsertMessage(ctx context.Context, msg *Message) error

	// GetMessageByID returns the message addressed by id, or ErrNotFound.
	GetMessageByID(ctx context.Context, messageID uuid.UUID) (*Message, error)

	// FetchRecentPaged returns at most limit messages of the chat ordered by
	// CreatedAt descending, plus an opaque continuation token for the next
	// page (nil when the scan is exhausted). limit is clamped to
	// [1, MaxMessagePageSize] with DefaultMessagePageSize for zero.
	FetchRecentPaged(ctx context.Context, chatID uuid.UUID, limit int, pageState []byte) ([]*Message, []byte, error)

	// EditWithHistory replaces the message content. An edit whose newContent
	// equals the current content is a no-op: no history row, no version
	// bump. Otherwise one MessageEdit row is appended first, then both
	// message tables are updated with the content, editor, edit time, and
	// Version+1.
	EditWithHistory(ctx context.Context, messageID uuid.UUID, newContent string, editor uuid.UUID) error

	// AttachMedia appends urls to MediaURLs and merges meta into MediaMeta
	// on both tables. Existing entries are never removed.
	AttachMedia(ctx context.Context, messageID uuid.UUID, urls []string, meta map[string]string) error

	// SoftDeleteMessage marks the message deleted. Requesters other than the
	// author need isAdmin. Deleting an already-deleted message succeeds.
	SoftDeleteMessage(ctx context.Context, messageID, requester uuid.UUID, isAdmin bool) error

	// RestoreMessage reverses a soft delete under the same authorisation
	// rule. Restoring a live message succeeds.
	RestoreMessage(ctx context.Context, messageID, requester uuid.UUID, isAdmin bool) error

	// HardDeleteMessage removes the message from both tables together with
	// its entire edit history. Admin only.
	HardDeleteMessage(ctx context.Context, messageID uuid.UUID, isAdmin bool) error

	// FetchEdits returns the revision history ordered by EditID ascending,
	// bounded by limit clamped to [1, MaxEditPageSize].
	FetchEdits(ctx context.Context, messageID uuid.UUID, limit int) ([]*MessageEdit, error)

	// GetUserChats returns every chat the user is a member of.
	GetUserChats(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// IsUserInChat reports membership of a single (user, chat) pair.
	IsUserInChat(ctx context.Context, userID, chatID uuid.UUID) (bool, error)

	// AddUserToChat records membership. Adding an existing membership is a
	// no-op.
	AddUserToChat(ctx context.Context, userID, chatID uuid.UUID) error

	// Ping verifies connectivity with the backing cluster.
	Ping(ctx context.Context) error

	// Close releases the underlying driver resources.
	Close() error
}

// clampLimit normalises a page limit: def for zero or negative, max as the
// upper bound.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
