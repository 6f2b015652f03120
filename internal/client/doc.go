// Package client talks to a whisperd daemon over its stdin/stdout protocol.
//
// Start spawns `whisperd run` and attaches to its pipes; New attaches to any
// reader/writer pair. Calls are serialized: each one writes a request with a
// fresh uuid (unless the caller set an id), then waits for the response that
// echoes it, discarding stale answers to earlier calls that timed out. When
// the daemon's output ends the client marks itself dead; callers check Alive
// and start a new daemon.
package client
