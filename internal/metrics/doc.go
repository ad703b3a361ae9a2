// Package metrics collects Prometheus metrics for the chat server.
//
// All collectors hang off one Metrics value with its own private registry,
// so two servers in one process (or parallel tests) never trip duplicate
// registration. Components call typed helpers (EventProduced, PoisonDropped,
// SessionOpened, RecordHTTPRequest, ...) instead of touching collectors
// directly.
//
// Metric names carry a chat_ prefix: counters end in _total, histograms in
// _seconds, and the session gauge is chat_sessions_active. Exposition is
// served by Handler, which the orchestrator mounts at the configured
// metrics path.
package metrics
