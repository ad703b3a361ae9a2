// ABOUTME: Scylla/Cassandra implementation of the Store interface using gocql
// ABOUTME: Keeps the partitioned and point-lookup message tables consistent

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// Column order shared by every message SELECT. Scan destinations in
// messageRow.dest must match.
const messageColumns = `chat_id, created_at, message_id, user_id, content, media_urls, media_meta, is_deleted, deleted_at, edited_at, edited_by, version`

const (
	cqlInsertMessage = `INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) USING TIMESTAMP ?`
	cqlInsertByID    = `INSERT INTO messages_by_id (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) USING TIMESTAMP ?`

	cqlGetByID     = `SELECT ` + messageColumns + ` FROM messages_by_id WHERE message_id = ?`
	cqlFetchRecent = `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ?`

	cqlInsertEdit = `INSERT INTO message_edits (message_id, edit_id, edited_at, editor, old_content, new_content, meta) VALUES (?, ?, ?, ?, ?, ?, ?)`
	cqlFetchEdits = `SELECT message_id, edit_id, edited_at, editor, old_content, new_content, meta FROM message_edits WHERE message_id = ? LIMIT ?`

	cqlUpdateContent     = `UPDATE messages SET content = ?, edited_at = ?, edited_by = ?, version = ? WHERE chat_id = ? AND created_at = ? AND message_id = ?`
	cqlUpdateContentByID = `UPDATE messages_by_id SET content = ?, edited_at = ?, edited_by = ?, version = ? WHERE message_id = ?`

	cqlAppendMedia     = `UPDATE messages SET media_urls = media_urls + ?, media_meta = media_meta + ? WHERE chat_id = ? AND created_at = ? AND message_id = ?`
	cqlAppendMediaByID = `UPDATE messages_by_id SET media_urls = media_urls + ?, media_meta = media_meta + ? WHERE message_id = ?`

	cqlSetDeleted     = `UPDATE messages SET is_deleted = ?, deleted_at = ? WHERE chat_id = ? AND created_at = ? AND message_id = ?`
	cqlSetDeletedByID = `UPDATE messages_by_id SET is_deleted = ?, deleted_at = ? WHERE message_id = ?`

	cqlDeleteMessage = `DELETE FROM messages WHERE chat_id = ? AND created_at = ? AND message_id = ?`
	cqlDeleteByID    = `DELETE FROM messages_by_id WHERE message_id = ?`
	cqlDeleteEdits   = `DELETE FROM message_edits WHERE message_id = ?`

	cqlUserChats  = `SELECT chat_id FROM user_chats WHERE user_id = ?`
	cqlMembership = `SELECT chat_id FROM user_chats WHERE user_id = ? AND chat_id = ?`
	cqlAddMember  = `INSERT INTO user_chats (user_id, chat_id) VALUES (?, ?)`
)

// ScyllaStore implements the Store interface on a Scylla or Cassandra
// cluster.
type ScyllaStore struct {
	session *gocql.Session
	logger  *slog.Logger
}

// NewScyllaStore connects to the cluster and returns a store bound to the
// given keyspace. The schema must already exist (see EnsureSchema).
func NewScyllaStore(hosts []string, keyspace string) (*ScyllaStore, error) {
	logger := slog.Default().With("component", "store")

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connecting to scylla: %w", err)
	}

	logger.Info("scylla store initialized", "hosts", hosts, "keyspace", keyspace)
	return &ScyllaStore{session: session, logger: logger}, nil
}

// messageRow is the scan target for one message row. Nullable columns come
// back as zero values and are converted to pointers in toMessage.
type messageRow struct {
	chatID    gocql.UUID
	createdAt time.Time
	messageID gocql.UUID
	userID    gocql.UUID
	content   []byte
	mediaURLs []string
	mediaMeta map[string]string
	isDeleted bool
	deletedAt time.Time
	editedAt  time.Time
	editedBy  gocql.UUID
	version   int64
}

func (r *messageRow) dest() []interface{} {
	return []interface{}{
		&r.chatID, &r.createdAt, &r.messageID, &r.userID,
		&r.content, &r.mediaURLs, &r.mediaMeta,
		&r.isDeleted, &r.deletedAt, &r.editedAt, &r.editedBy, &r.version,
	}
}

func (r *messageRow) toMessage() *Message {
	msg := &Message{
		ChatID:    uuid.UUID(r.chatID),
		CreatedAt: r.createdAt.UTC(),
		MessageID: uuid.UUID(r.messageID),
		UserID:    uuid.UUID(r.userID),
		MediaURLs: r.mediaURLs,
		MediaMeta: r.mediaMeta,
		IsDeleted: r.isDeleted,
		Version:   r.version,
	}
	if r.content != nil {
		content := string(r.content)
		msg.Content = &content
	}
	if !r.deletedAt.IsZero() {
		t := r.deletedAt.UTC()
		msg.DeletedAt = &t
	}
	if !r.editedAt.IsZero() {
		t := r.editedAt.UTC()
		msg.EditedAt = &t
	}
	if r.editedBy != (gocql.UUID{}) {
		id := uuid.UUID(r.editedBy)
		msg.EditedBy = &id
	}
	return msg
}

// editedByBind converts an optional editor id into a bindable value; a nil
// pointer marshals as null.
func editedByBind(id *uuid.UUID) *gocql.UUID {
	if id == nil {
		return nil
	}
	g := gocql.UUID(*id)
	return &g
}

func (s *ScyllaStore) insertBinds(msg *Message) []interface{} {
	return []interface{}{
		gocql.UUID(msg.ChatID), msg.CreatedAt, gocql.UUID(msg.MessageID), gocql.UUID(msg.UserID),
		msg.Content, msg.MediaURLs, msg.MediaMeta,
		msg.IsDeleted, msg.DeletedAt, msg.EditedAt, editedByBind(msg.EditedBy), msg.Version,
	}
}

// InsertMessage writes to the partitioned table first, then the point-lookup
// table. Both writes are idempotent on the full primary key. The write
// timestamp is pinned to the message creation time, so a replayed insert
// always loses to updates made after the message was created.
func (s *ScyllaStore) InsertMessage(ctx context.Context, msg *Message) error {
	binds := append(s.insertBinds(msg), msg.CreatedAt.UnixMicro())
	if err := s.session.Query(cqlInsertMessage, binds...).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	if err := s.session.Query(cqlInsertByID, binds...).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("inserting message by id: %w", err)
	}
	return nil
}

// GetMessageByID returns the message or ErrNotFound.
func (s *ScyllaStore) GetMessageByID(ctx context.Context, messageID uuid.UUID) (*Message, error) {
	var r messageRow
	err := s.session.Query(cqlGetByID, gocql.UUID(messageID)).WithContext(ctx).Scan(r.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message by id: %w", err)
	}
	return r.toMessage(), nil
}

// FetchRecentPaged returns one page of the chat's messages, newest first,
// with the driver's paging state as the continuation token.
func (s *ScyllaStore) FetchRecentPaged(ctx context.Context, chatID uuid.UUID, limit int, pageState []byte) ([]*Message, []byte, error) {
	limit = clampLimit(limit, DefaultMessagePageSize, MaxMessagePageSize)

	// Setting a page state, even an empty one, disables automatic paging so
	// the iterator stops at the page boundary.
	iter := s.session.Query(cqlFetchRecent, gocql.UUID(chatID)).
		WithContext(ctx).
		PageSize(limit).
		PageState(pageState).
		Iter()

	next := iter.PageState()

	messages := make([]*Message, 0, limit)
	for {
		var r messageRow
		if !iter.Scan(r.dest()...) {
			break
		}
		messages = append(messages, r.toMessage())
	}
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("fetching recent messages: %w", err)
	}

	if len(next) == 0 {
		next = nil
	}
	return messages, next, nil
}

// EditWithHistory applies a content edit. The history row is written before
// the message rows; if an update fails afterwards the history row remains
// and the next successful edit reconciles the state.
func (s *ScyllaStore) EditWithHistory(ctx context.Context, messageID uuid.UUID, newContent string, editor uuid.UUID) error {
	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}

	if msg.Content != nil && *msg.Content == newContent {
		return nil
	}

	var oldContent string
	if msg.Content != nil {
		oldContent = *msg.Content
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	editID := gocql.UUID(uuid.New())
	err = s.session.Query(cqlInsertEdit,
		gocql.UUID(messageID), editID, now, gocql.UUID(editor),
		oldContent, newContent, map[string]string{},
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("appending edit history: %w", err)
	}

	version := msg.Version + 1
	err = s.session.Query(cqlUpdateContent,
		newContent, now, gocql.UUID(editor), version,
		gocql.UUID(msg.ChatID), msg.CreatedAt, gocql.UUID(messageID),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("updating message content: %w", err)
	}

	err = s.session.Query(cqlUpdateContentByID,
		newContent, now, gocql.UUID(editor), version,
		gocql.UUID(messageID),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("updating message content by id: %w", err)
	}
	return nil
}

// AttachMedia appends urls and merges meta on both tables.
func (s *ScyllaStore) AttachMedia(ctx context.Context, messageID uuid.UUID, urls []string, meta map[string]string) error {
	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if urls == nil {
		urls = []string{}
	}
	if meta == nil {
		meta = map[string]string{}
	}

	err = s.session.Query(cqlAppendMedia,
		urls, meta,
		gocql.UUID(msg.ChatID), msg.CreatedAt, gocql.UUID(messageID),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("appending media: %w", err)
	}

	err = s.session.Query(cqlAppendMediaByID, urls, meta, gocql.UUID(messageID)).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("appending media by id: %w", err)
	}
	return nil
}

// canModify applies the author-or-admin rule for delete and restore.
func canModify(msg *Message, requester uuid.UUID, isAdmin bool) bool {
	return isAdmin || msg.UserID == requester
}

// SoftDeleteMessage marks the message deleted on both tables. Idempotent.
func (s *ScyllaStore) SoftDeleteMessage(ctx context.Context, messageID, requester uuid.UUID, isAdmin bool) error {
	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if !canModify(msg, requester, isAdmin) {
		return ErrPermissionDenied
	}
	if msg.IsDeleted {
		return nil
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	return s.setDeleted(ctx, msg, true, &now)
}

// RestoreMessage reverses a soft delete on both tables. Idempotent.
func (s *ScyllaStore) RestoreMessage(ctx context.Context, messageID, requester uuid.UUID, isAdmin bool) error {
	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if !canModify(msg, requester, isAdmin) {
		return ErrPermissionDenied
	}
	if !msg.IsDeleted {
		return nil
	}
	return s.setDeleted(ctx, msg, false, nil)
}

func (s *ScyllaStore) setDeleted(ctx context.Context, msg *Message, deleted bool, at *time.Time) error {
	err := s.session.Query(cqlSetDeleted,
		deleted, at,
		gocql.UUID(msg.ChatID), msg.CreatedAt, gocql.UUID(msg.MessageID),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("updating delete flag: %w", err)
	}

	err = s.session.Query(cqlSetDeletedByID, deleted, at, gocql.UUID(msg.MessageID)).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("updating delete flag by id: %w", err)
	}
	return nil
}

// HardDeleteMessage removes the message rows and all edit history. Admin
// only.
func (s *ScyllaStore) HardDeleteMessage(ctx context.Context, messageID uuid.UUID, isAdmin bool) error {
	if !isAdmin {
		return ErrPermissionDenied
	}

	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}

	err = s.session.Query(cqlDeleteMessage,
		gocql.UUID(msg.ChatID), msg.CreatedAt, gocql.UUID(messageID),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}

	if err := s.session.Query(cqlDeleteByID, gocql.UUID(messageID)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("deleting message by id: %w", err)
	}

	if err := s.session.Query(cqlDeleteEdits, gocql.UUID(messageID)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("deleting edit history: %w", err)
	}
	return nil
}

// FetchEdits returns the revision history, oldest edit id first.
func (s *ScyllaStore) FetchEdits(ctx context.Context, messageID uuid.UUID, limit int) ([]*MessageEdit, error) {
	limit = clampLimit(limit, DefaultEditPageSize, MaxEditPageSize)

	iter := s.session.Query(cqlFetchEdits, gocql.UUID(messageID), limit).WithContext(ctx).Iter()

	var edits []*MessageEdit
	for {
		var (
			gMsgID, gEditID, gEditor gocql.UUID
			editedAt                 time.Time
			oldContent, newContent   string
			meta                     map[string]string
		)
		if !iter.Scan(&gMsgID, &gEditID, &editedAt, &gEditor, &oldContent, &newContent, &meta) {
			break
		}
		edits = append(edits, &MessageEdit{
			MessageID:  uuid.UUID(gMsgID),
			EditID:     uuid.UUID(gEditID),
			EditedAt:   editedAt.UTC(),
			Editor:     uuid.UUID(gEditor),
			OldContent: oldContent,
			NewContent: newContent,
			Meta:       meta,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("fetching edits: %w", err)
	}
	return edits, nil
}

// GetUserChats returns every chat id the user belongs to.
func (s *ScyllaStore) GetUserChats(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	iter := s.session.Query(cqlUserChats, gocql.UUID(userID)).WithContext(ctx).Iter()

	var chats []uuid.UUID
	var g gocql.UUID
	for iter.Scan(&g) {
		chats = append(chats, uuid.UUID(g))
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("fetching user chats: %w", err)
	}
	return chats, nil
}

// IsUserInChat reports whether the membership row exists.
func (s *ScyllaStore) IsUserInChat(ctx context.Context, userID, chatID uuid.UUID) (bool, error) {
	var g gocql.UUID
	err := s.session.Query(cqlMembership, gocql.UUID(userID), gocql.UUID(chatID)).WithContext(ctx).Scan(&g)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return true, nil
}

// AddUserToChat records a membership row. Inserting twice is a no-op.
func (s *ScyllaStore) AddUserToChat(ctx context.Context, userID, chatID uuid.UUID) error {
	err := s.session.Query(cqlAddMember, gocql.UUID(userID), gocql.UUID(chatID)).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("adding membership: %w", err)
	}
	return nil
}

// Ping verifies the session can reach the cluster. Used by readiness checks.
func (s *ScyllaStore) Ping(ctx context.Context) error {
	if err := s.session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("pinging scylla: %w", err)
	}
	return nil
}

// Close shuts the driver session down.
func (s *ScyllaStore) Close() error {
	s.session.Close()
	return nil
}
