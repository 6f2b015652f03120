package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"whisperd/internal/logging"
	"whisperd/internal/services"
	"whisperd/internal/urlguard"
)

const (
	opFetch          = "fetch"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "whisperd"
)

// Options configures a Fetcher.
type Options struct {
	// Timeout bounds the whole fetch: connect, headers and body.
	Timeout time.Duration
	// TempDir holds downloads. Empty means os.TempDir().
	TempDir string
	// MaxBytes caps the body size. Zero disables the cap.
	MaxBytes int64
	// MaxRedirects is the number of redirect hops followed. Zero refuses
	// every redirect.
	MaxRedirects int
	UserAgent    string
	// Validator re-checks each redirect target. Nil refuses all redirects.
	Validator *urlguard.Validator
	// AddrGuard vets the address of every outgoing connection. Nil means
	// urlguard.CheckAddr.
	AddrGuard func(netip.Addr) error
	// RootCAs overrides the system roots.
	RootCAs *x509.CertPool
	Logger  *slog.Logger
}

// Fetcher performs guarded downloads. It is safe for sequential reuse.
type Fetcher struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// New builds a Fetcher.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.AddrGuard == nil {
		opts.AddrGuard = urlguard.CheckAddr
	}

	f := &Fetcher{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "fetch"),
	}

	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
		Control:   guardControl(opts.AddrGuard),
	}
	transport := &http.Transport{
		Proxy:       nil,
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    opts.RootCAs,
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
	f.client = &http.Client{
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// Fetch downloads rawURL into a new temporary file. The caller must have
// validated rawURL and must call Cleanup on the returned Download.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.WithContext(ctx, f.logger)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, services.Wrap(services.KindFetchError, opFetch, "invalid URL", err)
	}

	file, err := createTempFile(f.opts.TempDir)
	if err != nil {
		logger.Error("temp file creation failed",
			logging.String(logging.FieldEventType, "temp_file_failed"),
			logging.String(logging.FieldErrorHint, "check daemon.temp_dir exists and is writable"),
			logging.Error(err),
		)
		return nil, err
	}
	dl := &Download{Path: file.Name(), logger: logger}
	logger.Debug("temp file created", logging.String("file", filepath.Base(dl.Path)))

	size, finalURL, contentType, err := f.get(ctx, u, file)
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = services.Wrap(services.KindTempFileError, opFetch, "close temp file", closeErr)
	}
	if err != nil {
		_ = dl.Cleanup()
		return nil, err
	}

	dl.Size = size
	dl.FinalURL = finalURL
	dl.ContentType = contentType
	logger.Info("download complete",
		logging.String("host", u.Hostname()),
		logging.String("file", filepath.Base(dl.Path)),
		logging.String("size", humanize.Bytes(uint64(size))),
		logging.Int64("bytes", size),
		logging.String(logging.FieldEventType, "download_complete"),
	)
	return dl, nil
}

func (f *Fetcher) get(ctx context.Context, u *url.URL, dst *os.File) (int64, string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, "", "", services.Wrap(services.KindFetchError, opFetch, "build request", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", "", classify(ctx, err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return 0, "", "", services.Newf(services.KindFetchError, opFetch, "unexpected status %s", resp.Status)
	}
	limit := f.opts.MaxBytes
	if limit > 0 && resp.ContentLength > limit {
		return 0, "", "", services.Newf(services.KindFetchError, opFetch,
			"response too large: %s exceeds limit %s", humanize.Bytes(uint64(resp.ContentLength)), humanize.Bytes(uint64(limit)))
	}

	body := io.Reader(resp.Body)
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	n, err := io.Copy(dst, body)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return 0, "", "", services.Wrap(services.KindTempFileError, opFetch, "write temp file", err)
		}
		return 0, "", "", classify(ctx, err, "read body")
	}
	if limit > 0 && n > limit {
		return 0, "", "", services.Newf(services.KindFetchError, opFetch,
			"response too large: exceeds limit %s", humanize.Bytes(uint64(limit)))
	}
	return n, resp.Request.URL.String(), resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > f.opts.MaxRedirects {
		if f.opts.MaxRedirects == 0 {
			return services.Newf(services.KindFetchError, opFetch, "redirect to %s refused", req.URL.Redacted())
		}
		return services.Newf(services.KindFetchError, opFetch, "stopped after %d redirects", f.opts.MaxRedirects)
	}
	if f.opts.Validator == nil {
		return services.Newf(services.KindFetchError, opFetch, "redirect to %s refused", req.URL.Redacted())
	}
	if _, err := f.opts.Validator.ValidateURL(req.Context(), req.URL); err != nil {
		logging.SecurityEvent(req.Context(), f.logger, "redirect target rejected", "security_redirect_rejected",
			logging.String("location", req.URL.Redacted()),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.Error(err),
		)
		return err
	}
	return nil
}

// guardControl runs after resolution and before connect, so it sees the
// address the socket will actually use.
func guardControl(guard func(netip.Addr) error) func(network, address string, c syscall.RawConn) error {
	return func(_, address string, _ syscall.RawConn) error {
		ap, err := netip.ParseAddrPort(address)
		if err != nil {
			return services.Wrap(services.KindResolvesToUnsafeAddress, "dial", fmt.Sprintf("unparseable dial address %q", address), err)
		}
		if err := guard(ap.Addr()); err != nil {
			return services.Wrap(services.KindResolvesToUnsafeAddress, "dial",
				fmt.Sprintf("connection to %s blocked", ap.Addr().WithZone("")), err)
		}
		return nil
	}
}

// classify maps transport failures onto the fetch error kinds. Typed errors
// from the redirect check or dial guard keep their kind.
func classify(ctx context.Context, err error, detail string) error {
	var typed *services.Error
	if errors.As(err, &typed) {
		return typed
	}
	// *url.Error repeats the request URL, query included.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if isCertificateError(err) {
		return services.Wrap(services.KindCertificateError, opFetch, "certificate verification failed", err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.KindFetchTimeout, opFetch, "timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.KindFetchTimeout, opFetch, "timed out", err)
	}
	return services.Wrap(services.KindFetchError, opFetch, detail, err)
}

func isCertificateError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		systemRoots x509.SystemRootsError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &systemRoots)
}
