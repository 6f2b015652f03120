// Package fetch downloads validated URLs into private temporary files.
//
// Every download lands in a file named whisper_<32 hex chars> created with
// O_EXCL|O_NOFOLLOW and mode 0600. The file belongs to the returned
// Download until Cleanup is called; Cleanup removes it exactly once and
// reports removal failures as security events. Failed fetches never hand a
// path back: the partial file is removed before Fetch returns.
//
// The transport verifies certificate chains and host names, ignores proxy
// environment variables, re-validates every redirect hop with the urlguard
// policy, and checks the address it is about to connect to, so a name that
// changes its DNS answer between validation and dial is still refused.
package fetch
