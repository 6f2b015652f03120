package daemon

import (
	"context"
	"errors"
	"time"

	"whisperd/internal/audit"
	"whisperd/internal/logging"
	"whisperd/internal/protocol"
	"whisperd/internal/services"
)

// failure converts err into a wire response. It is the only place typed
// errors become error text.
func (d *Daemon) failure(ctx context.Context, id string, err error) protocol.Response {
	kind := services.KindOf(err)
	msg := describe(err)
	if services.IsSecurity(kind) {
		msg = "URL validation failed: " + msg
	} else {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "request failed", "request_failed",
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "caller received an error response"),
		)
	}
	return protocol.NewFailure(id, kind, msg)
}

// describe returns the typed detail, followed by the cause when the cause is
// not itself typed.
func describe(err error) string {
	var typed *services.Error
	if !errors.As(err, &typed) || typed == nil {
		return err.Error()
	}
	msg := typed.Detail
	if msg == "" {
		msg = typed.Error()
	} else if typed.Err != nil {
		var inner *services.Error
		if !errors.As(typed.Err, &inner) {
			msg += ": " + typed.Err.Error()
		}
	}
	return msg
}

func (d *Daemon) record(ctx context.Context, action Action, req protocol.Request, host string, started time.Time, err error) {
	if d.recorder == nil {
		return
	}
	tag := action.String()
	if action == ActionUnknown && req.Action != "" {
		tag = req.Action
	}
	entry := audit.Entry{
		RequestID: req.RequestID(),
		Action:    tag,
		Host:      host,
		Outcome:   audit.OutcomeSuccess,
	}
	if !started.IsZero() {
		entry.Duration = d.now().Sub(started)
	}
	if err != nil {
		kind := services.KindOf(err)
		entry.Outcome = audit.OutcomeFailure
		entry.ErrorKind = kind
		entry.Message = describe(err)
		entry.Security = services.IsSecurity(kind)
	}
	if rerr := d.recorder.Record(ctx, entry); rerr != nil {
		logging.WarnWithContext(d.logger, "audit record failed", "audit_record_failed",
			logging.Error(rerr),
			logging.String(logging.FieldImpact, "request missing from the audit ledger"),
			logging.String(logging.FieldErrorHint, "check audit.path permissions and free disk space"),
		)
	}
}
