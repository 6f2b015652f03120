// Package main hosts the whisperd CLI entrypoint and command graph.
//
// The Cobra-based command tree starts the resident transcription worker,
// checks URLs against the fetch policy, inspects the request ledger, and
// scaffolds configuration. Subcommands resolve configuration through a shared
// command context so each one only handles presentation.
//
// The worker itself lives in internal/daemonrun; keep this package limited to
// flag parsing and rendering.
package main
