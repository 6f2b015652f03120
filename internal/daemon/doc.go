// Package daemon implements the request-handling core of whisperd.
//
// A Daemon owns the URL validator, the fetcher and the single transcription
// engine. It loads the engine eagerly in New, answers one request at a time
// through Handle, and moves through Active, Idle and ShuttingDown. Watch runs
// the idle checker: once nothing has arrived for the idle timeout and no
// request is in flight, the daemon shuts itself down and releases the engine.
// Shutdown is terminal and idempotent; Done is closed when it happens so the
// protocol loop and the hosting process can exit.
//
// Every failure crosses into the wire format in one place (failure), which
// turns the typed error kind into error and error_kind fields. SSRF-class
// rejections are logged as security events and never reach the fetcher.
package daemon
