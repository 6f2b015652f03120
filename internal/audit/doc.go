// Package audit persists a ledger of handled requests in SQLite.
//
// Every request the daemon answers becomes one row: the request id, action,
// the host named by the URL (never the full URL), the outcome, the failure
// kind, how long it took, and whether the failure was an SSRF-class
// rejection. The ledger lets an operator review blocked URLs after the fact
// with `whisperd audit --security`.
//
// Schema changes bump schemaVersion in schema.go; an existing database with
// a different version is refused rather than migrated.
package audit
