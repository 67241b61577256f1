package model

import "strings"

// Instrument keys arrive in two textual encodings depending on the API:
// the vendor pipe form "NSE_EQ|INE002A01018" (HTTP history, wire
// subscriptions) and the colon form "NSE_EQ:INE002A01018" (some feed
// payloads). The colon form is canonical everywhere inside the engine;
// the pipe form is produced only at the wire boundary.

// NormalizeKey converts an instrument key to the canonical colon form.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(key, "|", ":")
}

// PipeKey converts an instrument key to the vendor pipe form used in
// subscribe/unsubscribe frames.
func PipeKey(key string) string {
	return strings.ReplaceAll(key, ":", "|")
}

// KeyCandidates returns the lookup forms to try against an inbound feeds
// map, canonical form first. The raw form is included because some feed
// payloads echo the key exactly as subscribed.
func KeyCandidates(key string) []string {
	norm := NormalizeKey(key)
	pipe := PipeKey(key)
	if norm == pipe {
		return []string{norm}
	}
	return []string{norm, pipe}
}
