// Package store provides persistent message storage backed by ScyllaDB.
//
// # Architecture
//
// The Store interface covers message persistence, paged history reads, edits
// with history, media attachment, soft/hard deletion, and chat membership.
// Two implementations exist:
//
//   - ScyllaStore: the production backend on gocql
//   - MockStore: an in-memory double mirroring every contract, including
//     paging and limit clamps, for tests that need no cluster
//
// # Schema
//
// Four tables, created by EnsureSchema (run via chat-server init):
//
//   - messages: partitioned by chat_id, clustered by (created_at DESC,
//     message_id). Serves the paged history read.
//   - messages_by_id: the same rows keyed by message_id alone. Serves point
//     lookups and is the table mutations read before writing.
//   - message_edits: one row per content change, keyed by (message_id,
//     edited_at). The edit history.
//   - user_chats: chat membership, keyed by (user_id, chat_id).
//
// Every mutation updates messages and messages_by_id together; the two
// tables must never disagree.
//
// # Write timestamps
//
// Inserts run USING TIMESTAMP pinned to the message creation time, while
// edit and delete updates carry server-time write timestamps. A redelivered
// insert therefore cannot roll back cells a later edit or delete already
// wrote, which is what lets the bus consumer re-execute inserts on
// at-least-once redelivery without inspecting the event.
//
// # Limits and failures
//
// History reads clamp limit to [1, MaxMessagePageSize], edit reads to
// [1, MaxEditPageSize]; zero means the default page size. Missing rows are
// ErrNotFound, ownership violations on delete/restore are
// ErrPermissionDenied, and driver failures are returned wrapped.
package store
