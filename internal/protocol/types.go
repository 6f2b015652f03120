package protocol

import (
	"whisperd/internal/engine"
	"whisperd/internal/services"
)

// Action tags accepted on the wire.
const (
	ActionTranscribe = "transcribe"
	ActionPing       = "ping"
	ActionStatus     = "status"
	ActionShutdown   = "shutdown"
)

// UnknownID is echoed when a parseable request carries no id.
const UnknownID = "unknown"

// LanguageAuto asks the engine to detect the spoken language.
const LanguageAuto = "auto"

// Request is one decoded input line.
type Request struct {
	ID             *string `json:"id,omitempty"`
	Action         string  `json:"action"`
	URL            string  `json:"url,omitempty"`
	Language       string  `json:"language,omitempty"`
	WordTimestamps *bool   `json:"word_timestamps,omitempty"`
}

// RequestID returns the id to echo.
func (r Request) RequestID() string {
	if r.ID == nil {
		return UnknownID
	}
	return *r.ID
}

// LanguageOrAuto returns the requested language, defaulting to auto.
func (r Request) LanguageOrAuto() string {
	if r.Language == "" {
		return LanguageAuto
	}
	return r.Language
}

// WantWordTimestamps defaults to true when the field is absent.
func (r Request) WantWordTimestamps() bool {
	return r.WordTimestamps == nil || *r.WordTimestamps
}

// Transcript is the transcribe success payload.
type Transcript struct {
	Text           string           `json:"text"`
	Language       string           `json:"language"`
	Duration       float64          `json:"duration"`
	Segments       []engine.Segment `json:"segments"`
	WordTimestamps []engine.Word    `json:"word_timestamps"`
}

// Status is the status success payload.
type Status struct {
	Engine          string  `json:"engine"`
	Model           string  `json:"model"`
	Device          string  `json:"device"`
	ModelLoaded     bool    `json:"model_loaded"`
	State           string  `json:"state"`
	LastActivity    float64 `json:"last_activity"`
	IdleTimeout     float64 `json:"idle_timeout"`
	RequestsHandled int64   `json:"requests_handled"`
}

// Response is one output line.
type Response struct {
	ID      *string `json:"id,omitempty"`
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`

	*Transcript
	*Status

	Error     string        `json:"error,omitempty"`
	ErrorKind services.Kind `json:"error_kind,omitempty"`
	Traceback string        `json:"traceback,omitempty"`
}

// NewResponse returns a success response for id.
func NewResponse(id string) Response {
	return Response{ID: &id, Success: true}
}

// NewFailure returns a failure response for id.
func NewFailure(id string, kind services.Kind, msg string) Response {
	return Response{ID: &id, ErrorKind: kind, Error: msg}
}

// ResponseID returns the echoed id, or "" when the response has none.
func (r Response) ResponseID() string {
	if r.ID == nil {
		return ""
	}
	return *r.ID
}
