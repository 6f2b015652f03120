package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"whisperd/internal/services"
)

// WhisperX invocation constants.
const (
	UVXCommand        = "uvx"
	DefaultModel      = "base"
	CUDAIndexURL      = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "4"
	ChunkSize         = "15"
	BeamSize          = "5"
	Temperature       = "0.0"
	SegmentResolution = "sentence"
	CPUDevice         = "cpu"
	CUDADevice        = "cuda"
	AutoDevice        = "auto"
	CPUComputeType    = "float32"
	VADMethodPyannote = "pyannote"
	VADMethodSilero   = "silero"
)

// CommandRunner executes an external command and returns its combined output
// on failure.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// WhisperXConfig captures runtime settings for WhisperX.
type WhisperXConfig struct {
	Model string
	// Device is cpu, cuda, or auto (cuda when nvidia-smi is on PATH).
	Device string
	// Command is uvx or a directly installed whisperx binary.
	Command   string
	VADMethod string
	HFToken   string
	Timeout   time.Duration
	// WorkDir receives per-request output directories.
	WorkDir string
}

// WhisperX runs transcriptions through the whisperx CLI.
type WhisperX struct {
	cfg      WhisperXConfig
	device   string
	loaded   bool
	runner   CommandRunner
	lookPath func(string) (string, error)
}

// NewWhisperX creates an unloaded WhisperX engine.
func NewWhisperX(cfg WhisperXConfig) *WhisperX {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Command == "" {
		cfg.Command = UVXCommand
	}
	if cfg.VADMethod == "" {
		cfg.VADMethod = VADMethodSilero
	}
	if cfg.Device == "" {
		cfg.Device = AutoDevice
	}
	return &WhisperX{cfg: cfg, lookPath: exec.LookPath}
}

// WithCommandRunner sets a custom command runner (for testing).
func (w *WhisperX) WithCommandRunner(runner CommandRunner) {
	w.runner = runner
}

// WithLookPath replaces PATH lookups (for testing).
func (w *WhisperX) WithLookPath(lookPath func(string) (string, error)) {
	if lookPath != nil {
		w.lookPath = lookPath
	}
}

func (w *WhisperX) Name() string  { return "whisperx" }
func (w *WhisperX) Model() string { return w.cfg.Model }

// Device returns the resolved device once loaded, otherwise the configured one.
func (w *WhisperX) Device() string {
	if w.device != "" {
		return w.device
	}
	return w.cfg.Device
}

// Load resolves the device and checks that the engine command exists.
func (w *WhisperX) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.KindEngineError, "load engine", "cancelled", err)
	}
	if _, err := w.lookPath(w.cfg.Command); err != nil {
		return services.Wrap(services.KindEngineError, "load engine",
			fmt.Sprintf("engine command %q not found", w.cfg.Command), err)
	}
	w.device = w.resolveDevice()
	if w.cfg.WorkDir != "" {
		if err := os.MkdirAll(w.cfg.WorkDir, 0o700); err != nil {
			return services.Wrap(services.KindEngineError, "load engine", "ensure work dir", err)
		}
	}
	w.loaded = true
	return nil
}

// Unload marks the engine released. Safe to call more than once.
func (w *WhisperX) Unload() error {
	w.loaded = false
	return nil
}

func (w *WhisperX) resolveDevice() string {
	switch strings.ToLower(w.cfg.Device) {
	case CUDADevice:
		return CUDADevice
	case CPUDevice:
		return CPUDevice
	default:
		if _, err := w.lookPath("nvidia-smi"); err == nil {
			return CUDADevice
		}
		return CPUDevice
	}
}

// Transcribe runs whisperx on path and parses its JSON output.
func (w *WhisperX) Transcribe(ctx context.Context, path string, opts Options) (Result, error) {
	const op = "transcribe"
	if !w.loaded {
		return Result{}, services.Newf(services.KindEngineError, op, "engine not loaded")
	}
	if path == "" {
		return Result{}, services.Newf(services.KindEngineError, op, "source path required")
	}

	outputDir, err := os.MkdirTemp(w.cfg.WorkDir, "whisperx-")
	if err != nil {
		return Result{}, services.Wrap(services.KindEngineError, op, "create output dir", err)
	}
	defer os.RemoveAll(outputDir)

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	args := w.buildArgs(path, outputDir, opts)
	if err := w.run(ctx, w.cfg.Command, args...); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, services.Wrap(services.KindEngineError, op, fmt.Sprintf("timed out after %s", w.cfg.Timeout), err)
		}
		return Result{}, services.Wrap(services.KindEngineError, op, "whisperx failed", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	payload, err := loadPayload(filepath.Join(outputDir, baseName+".json"))
	if err != nil {
		return Result{}, services.Wrap(services.KindEngineError, op, "read whisperx output", err)
	}

	result := Result{
		Language: payload.Language,
		Segments: payload.segments(),
	}
	if result.Language == "" {
		result.Language = opts.Language
	}
	result.Text = joinText(result.Segments)
	return result, nil
}

// run executes a command, using the custom runner if set.
func (w *WhisperX) run(ctx context.Context, name string, args ...string) error {
	if w.runner != nil {
		return w.runner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, lastLines(string(output), 5))
	}
	return nil
}

// buildArgs constructs the command arguments for WhisperX.
func (w *WhisperX) buildArgs(source, outputDir string, opts Options) []string {
	args := make([]string, 0, 40)
	device := w.Device()

	if filepath.Base(w.cfg.Command) == UVXCommand {
		if device == CUDADevice {
			args = append(args, "--index-url", CUDAIndexURL, "--extra-index-url", PypiIndexURL)
		} else {
			args = append(args, "--index-url", PypiIndexURL)
		}
		args = append(args, "whisperx")
	}

	args = append(args,
		source,
		"--model", w.cfg.Model,
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--beam_size", BeamSize,
		"--temperature", Temperature,
		"--vad_method", w.cfg.VADMethod,
	)
	if w.cfg.VADMethod == VADMethodPyannote && w.cfg.HFToken != "" {
		args = append(args, "--hf_token", w.cfg.HFToken)
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if !opts.WordTimestamps {
		args = append(args, "--no_align")
	}
	if device == CUDADevice {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}
	return args
}

type rawWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

type rawSegment struct {
	Text  string    `json:"text"`
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Words []rawWord `json:"words"`
}

// whisperXPayload is the JSON structure from WhisperX output.
type whisperXPayload struct {
	Language string       `json:"language"`
	Segments []rawSegment `json:"segments"`
}

func loadPayload(jsonPath string) (whisperXPayload, error) {
	var payload whisperXPayload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}

// segments converts raw output. Words the aligner could not time (digits,
// symbols) inherit the previous word's end so the sequence stays ordered.
func (p whisperXPayload) segments() []Segment {
	out := make([]Segment, 0, len(p.Segments))
	for _, raw := range p.Segments {
		seg := Segment{Start: raw.Start, End: raw.End, Text: strings.TrimSpace(raw.Text)}
		cursor := raw.Start
		for _, rw := range raw.Words {
			word := Word{Word: strings.TrimSpace(rw.Word), Start: cursor, End: cursor}
			if rw.Start != nil {
				word.Start = *rw.Start
			}
			if rw.End != nil {
				word.End = *rw.End
			} else {
				word.End = word.Start
			}
			cursor = word.End
			seg.Words = append(seg.Words, word)
		}
		out = append(out, seg)
	}
	return out
}

func joinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func lastLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
