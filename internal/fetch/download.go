package fetch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"whisperd/internal/logging"
)

// Download is a fetched body on local disk. The path is valid until Cleanup.
type Download struct {
	Path        string
	Size        int64
	ContentType string
	// FinalURL is the URL that served the body after redirects.
	FinalURL string

	logger  *slog.Logger
	once    sync.Once
	cleanup error
}

// Cleanup removes the file. Only the first call does any work; later calls
// return the first result. A file that is already gone counts as removed.
func (d *Download) Cleanup() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.cleanup = removeTemp(d.logger, d.Path)
	})
	return d.cleanup
}

func removeTemp(logger *slog.Logger, path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		if logger != nil {
			logger.Debug("temp file removed", logging.String("file", filepath.Base(path)))
		}
		return nil
	}
	logging.SecurityEvent(context.Background(), logger, "temp file cleanup failed; downloaded media remains on disk",
		"security_cleanup_failed",
		logging.String("path", path),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "remove the file manually and check temp_dir permissions"),
	)
	return err
}
