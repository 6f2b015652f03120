// Package daemonrun wires a whisperd process together: logger, single
// instance lock, audit ledger, validator, fetcher, engine, daemon core and
// the stdin/stdout protocol loop. It returns when input ends, a shutdown is
// requested, the idle timeout fires or the process is signalled.
package daemonrun
