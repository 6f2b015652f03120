package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"whisperd/internal/services"
)

const samplePayload = `{
  "language": "en",
  "segments": [
    {"text": " Hello there. ", "start": 0.0, "end": 1.5,
     "words": [{"word": "Hello", "start": 0.0, "end": 0.6}, {"word": "there.", "start": 0.7, "end": 1.5}]},
    {"text": "It costs 5 dollars.", "start": 1.5, "end": 3.0,
     "words": [{"word": "It", "start": 1.6, "end": 1.8}, {"word": "costs", "start": 1.9, "end": 2.2}, {"word": "5"}, {"word": "dollars.", "start": 2.5, "end": 3.0}]}
  ]
}`

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func found(string) (string, error) { return "/usr/bin/fake", nil }

func newTestEngine(t *testing.T, cfg WhisperXConfig, runner CommandRunner) *WhisperX {
	t.Helper()
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	w := NewWhisperX(cfg)
	w.WithLookPath(found)
	w.WithCommandRunner(runner)
	if err := w.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return w
}

func TestTranscribeParsesOutput(t *testing.T) {
	var gotArgs []string
	runner := func(_ context.Context, name string, args ...string) error {
		gotArgs = args
		if name != UVXCommand {
			t.Errorf("unexpected command %q", name)
		}
		out := filepath.Join(argValue(args, "--output_dir"), "whisper_abc.json")
		return os.WriteFile(out, []byte(samplePayload), 0o600)
	}
	w := newTestEngine(t, WhisperXConfig{Device: CPUDevice, Model: "small"}, runner)

	result, err := w.Transcribe(context.Background(), "/tmp/whisper_abc", Options{Language: "en", WordTimestamps: true})
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if result.Language != "en" || result.Text != "Hello there. It costs 5 dollars." {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Segments) != 2 || len(result.Segments[1].Words) != 4 {
		t.Fatalf("unexpected segments %+v", result.Segments)
	}
	untimed := result.Segments[1].Words[2]
	if untimed.Start != 2.2 || untimed.End != 2.2 {
		t.Fatalf("untimed word should inherit previous end, got %+v", untimed)
	}

	if argValue(gotArgs, "--model") != "small" || argValue(gotArgs, "--language") != "en" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
	if slices.Contains(gotArgs, "--no_align") {
		t.Fatalf("word timestamps requested but --no_align passed: %v", gotArgs)
	}
	if argValue(gotArgs, "--device") != CPUDevice || argValue(gotArgs, "--compute_type") != CPUComputeType {
		t.Fatalf("expected cpu device args, got %v", gotArgs)
	}
	if _, err := os.Stat(argValue(gotArgs, "--output_dir")); !os.IsNotExist(err) {
		t.Fatalf("output dir should be removed, stat err=%v", err)
	}
}

func TestBuildArgsVariants(t *testing.T) {
	w := NewWhisperX(WhisperXConfig{Device: CUDADevice, VADMethod: VADMethodPyannote, HFToken: "hf_x"})
	w.device = CUDADevice
	args := w.buildArgs("/tmp/in", "/tmp/out", Options{})
	if args[0] != "--index-url" || args[1] != CUDAIndexURL || !slices.Contains(args, "whisperx") {
		t.Fatalf("expected uvx cuda prefix, got %v", args)
	}
	if argValue(args, "--hf_token") != "hf_x" || argValue(args, "--vad_method") != VADMethodPyannote {
		t.Fatalf("expected pyannote args, got %v", args)
	}
	if !slices.Contains(args, "--no_align") || argValue(args, "--language") != "" {
		t.Fatalf("unexpected language/alignment args %v", args)
	}

	direct := NewWhisperX(WhisperXConfig{Command: "/opt/bin/whisperx", Device: CPUDevice})
	args = direct.buildArgs("/tmp/in", "/tmp/out", Options{WordTimestamps: true})
	if args[0] != "/tmp/in" {
		t.Fatalf("direct binary should not get uvx prefix: %v", args)
	}
}

func TestLoadResolvesDevice(t *testing.T) {
	w := NewWhisperX(WhisperXConfig{Device: AutoDevice, WorkDir: t.TempDir()})
	w.WithLookPath(func(name string) (string, error) {
		if name == "nvidia-smi" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	})
	if err := w.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if w.Device() != CPUDevice {
		t.Fatalf("expected cpu without nvidia-smi, got %s", w.Device())
	}

	gpu := NewWhisperX(WhisperXConfig{Device: AutoDevice, WorkDir: t.TempDir()})
	gpu.WithLookPath(found)
	if err := gpu.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if gpu.Device() != CUDADevice {
		t.Fatalf("expected cuda with nvidia-smi, got %s", gpu.Device())
	}
}

func TestLoadMissingCommand(t *testing.T) {
	w := NewWhisperX(WhisperXConfig{})
	w.WithLookPath(func(string) (string, error) { return "", errors.New("not found") })
	err := w.Load(context.Background())
	if services.KindOf(err) != services.KindEngineError || !strings.Contains(err.Error(), "uvx") {
		t.Fatalf("expected EngineError naming the command, got %v", err)
	}
}

func TestTranscribeFailures(t *testing.T) {
	unloaded := NewWhisperX(WhisperXConfig{})
	if _, err := unloaded.Transcribe(context.Background(), "/tmp/x", Options{}); services.KindOf(err) != services.KindEngineError {
		t.Fatalf("expected EngineError before Load, got %v", err)
	}

	failing := newTestEngine(t, WhisperXConfig{Device: CPUDevice}, func(context.Context, string, ...string) error {
		return errors.New("exit status 1: CUDA out of memory")
	})
	_, err := failing.Transcribe(context.Background(), "/tmp/x", Options{})
	if services.KindOf(err) != services.KindEngineError || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("expected wrapped EngineError, got %v", err)
	}

	silent := newTestEngine(t, WhisperXConfig{Device: CPUDevice}, func(context.Context, string, ...string) error { return nil })
	if _, err := silent.Transcribe(context.Background(), "/tmp/x", Options{}); services.KindOf(err) != services.KindEngineError {
		t.Fatalf("expected EngineError for missing output, got %v", err)
	}

	slow := newTestEngine(t, WhisperXConfig{Device: CPUDevice, Timeout: 20 * time.Millisecond}, func(ctx context.Context, _ string, _ ...string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_, err = slow.Transcribe(context.Background(), "/tmp/x", Options{})
	if services.KindOf(err) != services.KindEngineError || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout EngineError, got %v", err)
	}
}

func TestUnloadIsIdempotent(t *testing.T) {
	w := newTestEngine(t, WhisperXConfig{Device: CPUDevice}, nil)
	if err := w.Unload(); err != nil {
		t.Fatalf("Unload returned error: %v", err)
	}
	if err := w.Unload(); err != nil {
		t.Fatalf("second Unload returned error: %v", err)
	}
	if _, err := w.Transcribe(context.Background(), "/tmp/x", Options{}); err == nil {
		t.Fatal("expected error after Unload")
	}
}
