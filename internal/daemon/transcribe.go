package daemon

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"whisperd/internal/engine"
	"whisperd/internal/language"
	"whisperd/internal/logging"
	"whisperd/internal/protocol"
	"whisperd/internal/services"
)

const opTranscribe = "transcribe"

// transcribe validates, fetches and transcribes req.URL. The returned host is
// recorded in the ledger even on failure.
func (d *Daemon) transcribe(ctx context.Context, req protocol.Request) (*protocol.Transcript, string, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, "", services.Newf(services.KindMissingParameter, "", "Missing 'url' parameter")
	}
	host := hostOf(raw)

	lang, err := language.Normalize(req.LanguageOrAuto())
	if err != nil {
		return nil, host, services.Wrap(services.KindInvalidParameter, "", "unsupported language", err)
	}

	target, err := d.validator.Validate(ctx, raw)
	if err != nil {
		logging.SecurityEvent(ctx, d.logger, "SSRF attempt blocked", "security_ssrf_blocked",
			logging.String("url", redactURL(raw)),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.String("reason", services.DetailOf(err)),
		)
		return nil, host, err
	}
	if target.Host != "" {
		host = target.Host
	}

	dl, err := d.fetcher.Fetch(ctx, target.URL.String())
	if err != nil {
		d.logFetchFailure(ctx, raw, err)
		return nil, host, err
	}
	defer func() {
		// Cleanup reports its own failures as security events.
		_ = dl.Cleanup()
	}()

	logging.WithContext(ctx, d.logger).Info("processing audio file",
		logging.String(logging.FieldEventType, "transcribe_start"),
		logging.String("host", host),
		logging.Int64("bytes", dl.Size),
		logging.String("language", req.LanguageOrAuto()),
	)

	result, err := d.engine.Transcribe(ctx, dl.Path, engine.Options{
		Language:       lang,
		WordTimestamps: req.WantWordTimestamps(),
	})
	if err != nil {
		var typed *services.Error
		if !errors.As(err, &typed) {
			err = services.Wrap(services.KindEngineError, opTranscribe, "transcription failed", err)
		}
		return nil, host, err
	}
	return reshape(result), host, nil
}

func (d *Daemon) logFetchFailure(ctx context.Context, raw string, err error) {
	kind := services.KindOf(err)
	switch {
	case services.IsSecurity(kind):
		logging.SecurityEvent(ctx, d.logger, "fetch blocked by address policy", "security_fetch_blocked",
			logging.String("url", redactURL(raw)),
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.String("reason", services.DetailOf(err)),
		)
	case kind == services.KindCertificateError:
		logging.SecurityEvent(ctx, d.logger, "certificate verification failed", "security_certificate_rejected",
			logging.String("url", redactURL(raw)),
			logging.Error(err),
		)
	}
}

// reshape sums segment end times into duration and flattens per-word
// timestamps in segment order.
func reshape(res engine.Result) *protocol.Transcript {
	segments := res.Segments
	if segments == nil {
		segments = []engine.Segment{}
	}
	words := make([]engine.Word, 0)
	var duration float64
	for _, seg := range segments {
		duration += seg.End
		words = append(words, seg.Words...)
	}
	lang := strings.TrimSpace(res.Language)
	if lang == "" {
		lang = "unknown"
	}
	return &protocol.Transcript{
		Text:           strings.TrimSpace(res.Text),
		Language:       lang,
		Duration:       duration,
		Segments:       segments,
		WordTimestamps: words,
	}
}

// redactURL keeps scheme, host and path. Userinfo, query and fragment can
// carry credentials and are dropped.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	clean := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	return clean.String()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
