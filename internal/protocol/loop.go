package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"whisperd/internal/logging"
	"whisperd/internal/services"
)

// Shutdown reasons passed to Handler.Shutdown.
const (
	ReasonEOF         = "eof"
	ReasonSignal      = "signal"
	ReasonInputError  = "input_error"
	ReasonOutputError = "output_error"
)

// Handler answers decoded requests. Handle is called from a single goroutine.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
	// Shutdown enters the terminal state. It must be idempotent.
	Shutdown(reason string)
	// Done is closed once the handler has entered the terminal state.
	Done() <-chan struct{}
}

// Loop serves one input stream against a Handler.
type Loop struct {
	handler Handler
	in      *LineReader
	out     *Encoder
	logger  *slog.Logger
}

// NewLoop builds a Loop reading requests from in and writing responses to out.
func NewLoop(h Handler, in io.Reader, out io.Writer, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loop{
		handler: h,
		in:      NewLineReader(in, MaxLineBytes),
		out:     NewEncoder(out),
		logger:  logging.NewComponentLogger(logger, "protocol"),
	}
}

type frame struct {
	line []byte
	err  error
}

// Serve processes requests until input ends, ctx is cancelled, or the
// handler shuts down. It returns an error only when the output stream or the
// input stream fails.
func (l *Loop) Serve(ctx context.Context) error {
	frames := make(chan frame)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			line, err := l.in.ReadLine()
			select {
			case frames <- frame{line: line, err: err}:
			case <-stop:
				return
			}
			if err != nil && !errors.Is(err, ErrLineTooLong) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("protocol loop interrupted", logging.String(logging.FieldEventType, "loop_signal"))
			l.handler.Shutdown(ReasonSignal)
			return nil
		case <-l.handler.Done():
			l.logger.Info("protocol loop stopping", logging.String(logging.FieldEventType, "loop_shutdown"))
			return nil
		case f := <-frames:
			if errors.Is(f.err, ErrLineTooLong) {
				if err := l.write(l.malformed(fmt.Sprintf("request line exceeds %d bytes", MaxLineBytes))); err != nil {
					return err
				}
				continue
			}
			if len(f.line) > 0 {
				if err := l.process(ctx, f.line); err != nil {
					return err
				}
			}
			if f.err != nil {
				if errors.Is(f.err, io.EOF) {
					l.logger.Info("input closed", logging.String(logging.FieldEventType, "loop_eof"))
					l.handler.Shutdown(ReasonEOF)
					return nil
				}
				l.handler.Shutdown(ReasonInputError)
				return fmt.Errorf("read request: %w", f.err)
			}
			select {
			case <-l.handler.Done():
				return nil
			default:
			}
		}
	}
}

func (l *Loop) process(ctx context.Context, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	req, err := DecodeRequest(line)
	var fieldErr *FieldError
	if errors.As(err, &fieldErr) && fieldErr.ID != nil {
		logging.WarnWithContext(l.logger, "request has mistyped fields", "request_invalid_field",
			logging.String(logging.FieldRequestID, *fieldErr.ID),
			logging.String("field", fieldErr.Field),
			logging.Error(err),
			logging.String(logging.FieldImpact, "request rejected"),
		)
		return l.write(NewFailure(*fieldErr.ID, fieldErr.Kind, fieldErr.Error()))
	}
	if err != nil {
		logging.WarnWithContext(l.logger, "request decode failed", "request_invalid_json",
			logging.Error(err),
			logging.String(logging.FieldImpact, "request rejected"),
			logging.String(logging.FieldErrorHint, "send one JSON object per line"),
		)
		return l.write(l.malformed("Invalid JSON: " + err.Error()))
	}
	return l.write(l.dispatch(ctx, req))
}

func (l *Loop) dispatch(ctx context.Context, req Request) (resp Response) {
	id := req.RequestID()
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(l.logger, "request handler panicked", "request_panic",
				logging.String(logging.FieldRequestID, id),
				logging.String(logging.FieldAction, req.Action),
				logging.Any("panic", r),
			)
			resp = NewFailure(id, services.KindInternalError, fmt.Sprintf("internal error: %v", r))
			resp.Traceback = string(debug.Stack())
		}
	}()
	resp = l.handler.Handle(ctx, req)
	resp.ID = &id
	return resp
}

func (l *Loop) malformed(msg string) Response {
	return Response{Error: msg, ErrorKind: services.KindMalformed}
}

func (l *Loop) write(resp Response) error {
	if err := l.out.Write(resp); err != nil {
		logging.ErrorWithContext(l.logger, "response write failed", "loop_output_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the reading process closed its end of the pipe"),
		)
		l.handler.Shutdown(ReasonOutputError)
		return err
	}
	return nil
}
