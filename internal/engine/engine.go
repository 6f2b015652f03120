package engine

import "context"

// Word is one word with its timing in seconds.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one transcribed span.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Result is the engine's transcript for one file.
type Result struct {
	Text     string
	Language string
	Segments []Segment
}

// Options are the per-request engine settings.
type Options struct {
	// Language is an ISO 639 code, or empty to detect.
	Language       string
	WordTimestamps bool
}

// Engine transcribes local media files. Implementations are not required to
// be safe for concurrent use.
type Engine interface {
	Name() string
	Model() string
	Device() string
	Load(ctx context.Context) error
	Transcribe(ctx context.Context, path string, opts Options) (Result, error)
	Unload() error
}
