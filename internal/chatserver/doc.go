// Package chatserver orchestrates the chat server's components.
//
// # Overview
//
// Server owns the whole component graph: the Scylla store, the fan-out
// manager, the Kafka producer and consumer, the dedupe cache, the WebSocket
// session handler, the REST API, and the HTTP server that fronts them.
//
// New builds and connects everything; Run starts the HTTP listener and the
// consumer loop and blocks until the context is canceled or a component
// fails; Shutdown tears the graph down in dependency order, closing the
// HTTP listener first so nothing new arrives while the rest drains.
// WebSocket sessions are closed explicitly because http.Server.Shutdown
// does not cover hijacked connections.
package chatserver
