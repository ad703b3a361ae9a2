// Package dedupe provides event deduplication using a time-based cache
// so redelivered bus events are not fanned out to sessions twice.
package dedupe
