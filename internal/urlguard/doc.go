// Package urlguard decides whether a caller-supplied URL may be fetched.
//
// Validation runs in a fixed order: emptiness, parse, scheme, host presence,
// port policy, domain allowlist, and finally address checks. A literal IP
// host (including inet_aton spellings such as 2130706433 or 0x7f.1) is
// classified directly; any other host is resolved and every answer must be
// public, so a name is only as safe as its least safe record. IPv4-mapped,
// NAT64 and 6to4 IPv6 forms are unwrapped to the embedded IPv4 address before
// classification.
//
// Failures are *services.Error values whose Kind names the rule that was
// broken. CheckAddr exposes the address classification on its own so the
// fetch transport can re-check the address it actually dials.
package urlguard
