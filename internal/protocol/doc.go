// Package protocol carries the daemon's newline-delimited JSON wire format.
//
// One request object arrives per input line and exactly one response object
// is written per request, in order, flushed immediately. Lines that are not
// valid JSON, or that exceed MaxLineBytes, still get a response; it has no id
// because none could be recovered. Panics escaping the handler become
// InternalError responses carrying the request id. End of input and context
// cancellation both drive the handler's shutdown path.
//
// Response is flat: the transcribe payload and the status snapshot are
// embedded so their fields sit beside id and success on the wire.
package protocol
