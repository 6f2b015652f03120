package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"whisperd/internal/services"
)

// MaxLineBytes caps a single wire line.
const MaxLineBytes = 1 << 20

// ErrLineTooLong reports a line over MaxLineBytes. The rest of the line has
// been consumed, so the reader is positioned at the next line.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// LineReader reads newline-delimited frames.
type LineReader struct {
	r     *bufio.Reader
	limit int
}

// NewLineReader wraps r. A non-positive limit means MaxLineBytes.
func NewLineReader(r io.Reader, limit int) *LineReader {
	if limit <= 0 {
		limit = MaxLineBytes
	}
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024), limit: limit}
}

// ReadLine returns the next line without its terminator. At end of input
// a final unterminated line is returned together with io.EOF.
func (lr *LineReader) ReadLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := lr.r.ReadSlice('\n')
		if len(buf)+len(chunk) > lr.limit+1 {
			if errors.Is(err, bufio.ErrBufferFull) {
				if derr := lr.discardLine(); derr != nil && !errors.Is(derr, io.EOF) {
					return nil, derr
				}
			}
			return nil, ErrLineTooLong
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return bytes.TrimRight(buf, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return bytes.TrimRight(buf, "\r\n"), err
		}
	}
}

func (lr *LineReader) discardLine() error {
	for {
		_, err := lr.r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// Encoder writes one JSON object per line and flushes after each.
type Encoder struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Encoder{w: bw, enc: enc}
}

// Write encodes v followed by a newline and flushes.
func (e *Encoder) Write(v any) error {
	if err := e.enc.Encode(v); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush message: %w", err)
	}
	return nil
}

// FieldError reports a JSON object whose fields do not have the expected
// types. ID is set when a string id could still be read from the object.
type FieldError struct {
	ID    *string
	Field string
	Kind  services.Kind
	Err   error
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("Invalid request: %v", e.Err)
	}
	return fmt.Sprintf("Invalid '%s' parameter: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// DecodeRequest parses one line into a Request. A line that is not a JSON
// object returns the json error; an object with a mistyped field returns a
// *FieldError.
func DecodeRequest(line []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Request{}, err
	}
	var req Request
	err := json.Unmarshal(line, &req)
	if err == nil {
		return req, nil
	}

	fe := &FieldError{Kind: services.KindInvalidParameter, Err: err}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		fe.Field = typeErr.Field
		fe.Err = fmt.Errorf("expected %s, got %s", typeErr.Type, typeErr.Value)
	}
	fe.ID = recoverID(fields)
	switch {
	case fe.ID == nil:
		fe.Kind = services.KindMalformed
	case fe.Field == "action":
		fe.Kind = services.KindUnknownAction
	}
	return Request{}, fe
}

// recoverID returns the id a response should echo, or nil when the object
// carries an id that is not a string.
func recoverID(fields map[string]json.RawMessage) *string {
	raw, ok := fields["id"]
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		id := UnknownID
		return &id
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil
	}
	return &id
}

// DecodeResponse parses one line into a Response.
func DecodeResponse(line []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
