// Package event defines ChatEvent, the JSON message snapshot that travels
// over the bus and out to WebSocket clients. Every bus record value and
// every outbound socket frame payload is one ChatEvent; conversions to and
// from store rows live next to the type.
package event
