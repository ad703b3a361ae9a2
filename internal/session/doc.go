// ABOUTME: Package documentation for the WebSocket session layer
// ABOUTME: Explains the session lifecycle and close-code contract

// Package session serves authenticated WebSocket connections that stream
// live chat events to clients.
//
// A session moves through fixed phases: the connection is upgraded, the
// bearer token is verified, the user's memberships are loaded and
// subscribed, and then two pumps run until either side ends the
// connection. The client may adjust its subscriptions at any time with
// subscribe and unsubscribe commands; a subscribe is honoured only after a
// fresh membership check against the store.
//
// # Close codes
//
// Sessions end with a close frame that tells the client what to do next:
//
//   - 1000 normal closure: the client hung up.
//   - 1001 going away: the server is shutting down; reconnect later.
//   - 1008 policy violation: bad or missing token, or command flooding.
//   - 1011 internal error: membership load or socket write failed.
//   - 4008 lagged: the session fell behind and events were dropped;
//     reconnect and backfill missed history over REST.
//
// The write pump is the only goroutine writing data frames. Room
// forwarders hand events to it over a bounded queue, so a slow socket
// exerts backpressure all the way to the per-room ring buffers, which is
// where lag is detected and reported.
package session
