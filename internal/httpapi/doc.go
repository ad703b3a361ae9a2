// Package httpapi serves the chat service's REST surface.
//
// # Routes
//
//   - POST /chats/{chat_id}/messages - publish a message to the bus; 201
//     with {message_id, created_at} once the broker acks
//   - GET /chats/{chat_id}/messages - paged history, newest first;
//     ?limit= and ?paging_state= (opaque base64 token from the previous page)
//   - PUT /messages/{message_id} - edit with history
//   - DELETE /messages/{message_id} - soft delete (author or admin)
//   - POST /messages/{message_id}/restore - undo a soft delete
//   - DELETE /messages/{message_id}/permanent - hard delete (admin only)
//   - POST /messages/{message_id}/media - attach media URLs additively
//   - GET /messages/{message_id}/edits - edit history, oldest first
//   - GET /health, GET /health/ready - liveness and readiness
//
// Sending returns before the consumer has persisted the message; the broker
// ack is the durability point. A client that needs read-your-write fetches
// history after its socket delivers the event.
//
// # Authentication
//
// Mutating routes require a bearer token; the verified subject is recorded
// as the author, editor, or deleter. Reads are open. The permanent delete
// additionally requires the admin role.
//
// # Errors
//
// Failures are {"error": "..."} JSON bodies. Store sentinels map to
// statuses: ErrNotFound to 404, ErrPermissionDenied to 403, validation
// failures to 400, and anything else to a logged 500.
package httpapi
