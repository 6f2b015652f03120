package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"whisperd/internal/logging"
	"whisperd/internal/protocol"
	"whisperd/internal/services"
)

const (
	defaultCallTimeout  = 10 * time.Minute
	defaultPollInterval = 250 * time.Millisecond
)

// Client issues requests to one daemon. It is safe for concurrent use;
// requests are sent one at a time.
type Client struct {
	callMu sync.Mutex
	out    *protocol.Encoder
	closer io.Closer
	frames chan protocol.Response
	dead   chan struct{}

	errMu   sync.Mutex
	readErr error

	cmd         *exec.Cmd
	waitOnce    sync.Once
	waitErr     error
	callTimeout time.Duration
	newID       func() string
	logger      *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCallTimeout bounds calls whose context has no deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithIDGenerator replaces uuid request ids.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New attaches to a daemon reading requests from w and writing responses to r.
// Closing the client closes w.
func New(r io.Reader, w io.WriteCloser, opts ...Option) *Client {
	c := &Client{
		out:         protocol.NewEncoder(w),
		closer:      w,
		frames:      make(chan protocol.Response, 1),
		dead:        make(chan struct{}),
		callTimeout: defaultCallTimeout,
		newID:       func() string { return uuid.NewString() },
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "client")
	go c.readLoop(protocol.NewLineReader(r, protocol.MaxLineBytes))
	return c
}

// StartConfig describes how to spawn a daemon process.
type StartConfig struct {
	// Binary defaults to "whisperd".
	Binary      string
	ConfigPath  string
	IdleTimeout time.Duration
	Model       string
	LogLevel    string
	ExtraArgs   []string
	// Env is appended to the inherited environment.
	Env []string
	// Stderr receives the daemon's log output. Nil discards it.
	Stderr io.Writer
}

// Args returns the command line arguments passed to Binary.
func (sc StartConfig) Args() []string {
	args := []string{"run"}
	if sc.ConfigPath != "" {
		args = append(args, "--config", sc.ConfigPath)
	}
	if sc.IdleTimeout > 0 {
		args = append(args, "--idle-timeout", strconv.Itoa(int(sc.IdleTimeout/time.Second)))
	}
	if sc.Model != "" {
		args = append(args, "--model", sc.Model)
	}
	if sc.LogLevel != "" {
		args = append(args, "--log-level", sc.LogLevel)
	}
	return append(args, sc.ExtraArgs...)
}

// Start spawns a daemon and attaches to its stdin and stdout.
func Start(sc StartConfig, opts ...Option) (*Client, error) {
	binary := sc.Binary
	if binary == "" {
		binary = "whisperd"
	}
	cmd := exec.Command(binary, sc.Args()...)
	if len(sc.Env) > 0 {
		cmd.Env = append(cmd.Environ(), sc.Env...)
	}
	cmd.Stderr = sc.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start daemon: %w", err)
	}

	c := New(stdout, stdin, opts...)
	c.cmd = cmd
	c.logger.Info("daemon started",
		logging.String(logging.FieldEventType, "daemon_spawned"),
		logging.Int("pid", cmd.Process.Pid),
		logging.String("binary", binary),
	)
	return c, nil
}

func (c *Client) readLoop(lr *protocol.LineReader) {
	defer close(c.dead)
	for {
		line, err := lr.ReadLine()
		if len(line) > 0 {
			resp, derr := protocol.DecodeResponse(line)
			if derr != nil {
				c.logger.Debug("skipping non-protocol output", logging.Error(derr))
			} else {
				c.deliver(resp)
			}
		}
		if err == nil || errors.Is(err, protocol.ErrLineTooLong) {
			continue
		}
		if !errors.Is(err, io.EOF) {
			c.setErr(fmt.Errorf("read response: %w", err))
		}
		return
	}
}

// deliver keeps only the newest undelivered response. Calls are serialized,
// so anything older answers a call that already gave up.
func (c *Client) deliver(resp protocol.Response) {
	select {
	case c.frames <- resp:
		return
	default:
	}
	select {
	case <-c.frames:
	default:
	}
	c.frames <- resp
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

// Err returns why the connection ended, ErrClosed after a clean EOF, or nil
// while it is alive.
func (c *Client) Err() error {
	select {
	case <-c.dead:
	default:
		return nil
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrClosed
}

// Alive reports whether the daemon's output is still open.
func (c *Client) Alive() bool {
	return c.Err() == nil
}

// Dead is closed when the daemon's output ends.
func (c *Client) Dead() <-chan struct{} {
	return c.dead
}

// Call sends req and waits for its response. A response with success=false
// is returned together with a *RemoteError.
func (c *Client) Call(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if req.ID == nil {
		id := c.newID()
		req.ID = &id
	}
	id := *req.ID
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.Err(); err != nil {
		return protocol.Response{}, err
	}
	if err := c.out.Write(req); err != nil {
		return protocol.Response{}, fmt.Errorf("send %s request: %w", req.Action, err)
	}

	for {
		select {
		case resp := <-c.frames:
			got := resp.ResponseID()
			if got == "" && !answersUnparsedLine(resp) {
				c.logger.Debug("discarding response without id",
					logging.String("expected_id", id),
					logging.Bool("success", resp.Success),
				)
				continue
			}
			if got != id && got != "" {
				c.logger.Debug("discarding stale response",
					logging.String("expected_id", id),
					logging.String("response_id", got),
				)
				continue
			}
			if !resp.Success {
				return resp, &RemoteError{Kind: resp.ErrorKind, Message: resp.Error, Traceback: resp.Traceback}
			}
			return resp, nil
		case <-c.dead:
			// A response may have been queued just before EOF.
			select {
			case resp := <-c.frames:
				if resp.ResponseID() == id {
					if !resp.Success {
						return resp, &RemoteError{Kind: resp.ErrorKind, Message: resp.Error, Traceback: resp.Traceback}
					}
					return resp, nil
				}
			default:
			}
			return protocol.Response{}, c.Err()
		case <-ctx.Done():
			return protocol.Response{}, fmt.Errorf("%s request %s: %w", req.Action, id, ctx.Err())
		}
	}
}

// answersUnparsedLine reports an id-less Malformed failure, the only reply
// the daemon sends for a line it could not read an id from.
func answersUnparsedLine(resp protocol.Response) bool {
	return !resp.Success && resp.ErrorKind == services.KindMalformed
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.Request{Action: protocol.ActionPing})
	return err
}

// Status returns the daemon's state snapshot.
func (c *Client) Status(ctx context.Context) (protocol.Status, error) {
	resp, err := c.Call(ctx, protocol.Request{Action: protocol.ActionStatus})
	if err != nil {
		return protocol.Status{}, err
	}
	if resp.Status == nil {
		return protocol.Status{}, errors.New("status response carried no status")
	}
	return *resp.Status, nil
}

// TranscribeOptions are forwarded with a transcribe request.
type TranscribeOptions struct {
	// Language defaults to auto detection.
	Language string
	// WordTimestamps defaults to true.
	WordTimestamps *bool
}

// Transcribe asks the daemon to fetch and transcribe url.
func (c *Client) Transcribe(ctx context.Context, url string, opts TranscribeOptions) (*protocol.Transcript, error) {
	resp, err := c.Call(ctx, protocol.Request{
		Action:         protocol.ActionTranscribe,
		URL:            url,
		Language:       opts.Language,
		WordTimestamps: opts.WordTimestamps,
	})
	if err != nil {
		return nil, err
	}
	if resp.Transcript == nil {
		return nil, errors.New("transcribe response carried no transcript")
	}
	return resp.Transcript, nil
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.Request{Action: protocol.ActionShutdown})
	return err
}

// WaitReady polls status until the engine reports loaded or ctx ends.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	for {
		st, err := c.Status(ctx)
		if err == nil && st.ModelLoaded {
			return nil
		}
		if err != nil {
			var remote *RemoteError
			if !errors.As(err, &remote) {
				return fmt.Errorf("daemon not ready: %w", err)
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon not ready: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Close closes the request stream. For a spawned daemon this is EOF, which
// shuts it down; Close then waits for the process to exit.
func (c *Client) Close() error {
	err := c.closer.Close()
	if c.cmd != nil {
		if werr := c.Wait(); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// Wait blocks until a spawned daemon exits. It returns nil for attached
// clients.
func (c *Client) Wait() error {
	if c.cmd == nil {
		return nil
	}
	c.waitOnce.Do(func() {
		<-c.dead
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}
