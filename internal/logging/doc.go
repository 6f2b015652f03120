// Package logging assembles the structured slog loggers used by whisperd.
//
// The daemon's stdout is reserved for protocol responses, so every handler
// built here writes to stderr or to a per-run log file, never to stdout.
// Console output is a compact key=value line; JSON output is one object per
// line and is what the log files always use. Context helpers tag records with
// the request id and action of the request being served, and SecurityEvent
// gives SSRF rejections and cleanup failures a uniform, greppable shape.
package logging
