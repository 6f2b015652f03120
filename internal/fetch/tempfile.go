package fetch

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"whisperd/internal/services"
)

const tempPrefix = "whisper_"

// createTempFile opens a fresh owner-only file in dir. The name embeds a
// 128-bit random token; O_EXCL makes a collision fail instead of reuse an
// existing file, and O_NOFOLLOW refuses a planted symlink.
func createTempFile(dir string) (*os.File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return nil, services.Wrap(services.KindTempFileError, "create temp file",
			fmt.Sprintf("temp directory not writable: %s", dir), err)
	}

	var token [16]byte
	if _, err := rand.Read(token[:]); err != nil {
		return nil, services.Wrap(services.KindTempFileError, "create temp file", "generate random name", err)
	}
	path := filepath.Join(dir, tempPrefix+hex.EncodeToString(token[:]))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|unix.O_NOFOLLOW, 0o600)
	if err != nil {
		return nil, services.Wrap(services.KindTempFileError, "create temp file",
			fmt.Sprintf("open %s", filepath.Base(path)), err)
	}
	return file, nil
}
