// Package bus carries chat events over Kafka between the send path and the
// delivery path.
//
// # Producer
//
// Publish serialises the event to JSON and produces it synchronously with
// the chat id as the record key, so all events of one chat land on one
// partition in publish order. The client is idempotent; broker-side retries
// cannot duplicate a record. Sends that the broker does not acknowledge
// within PublishTimeout fail with ErrPublishTimeout and the HTTP layer
// reports the send as failed.
//
// # Consumer
//
// The consumer joins a consumer group, starts from the earliest offset on a
// fresh group, and processes each partition's records in order:
//
//  1. empty payload: logged and acked
//  2. undecodable payload: poison pill, logged, counted, acked
//  3. store insert failure: not acked, the rest of that partition's batch is
//     skipped so redelivery resumes from the failure point in order
//  4. insert ok: fan-out to live sessions, gated by the dedupe cache so a
//     redelivered record is stored again but not broadcast again
//  5. ack (mark for asynchronous commit)
//
// Delivery to the store is at-least-once; the store's timestamped inserts
// make the replay harmless.
package bus
