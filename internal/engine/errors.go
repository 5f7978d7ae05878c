package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Operation failures fall into a closed taxonomy. Sentinels wrap the
// underlying cause so callers can branch with errors.Is while the envelope
// carries the full message.
var (
	ErrSecurityRejected = errors.New("security rejected")
	ErrConnectFailed    = errors.New("connection failed")
	ErrRemoteCommand    = errors.New("remote command failed")
	ErrNotFound         = errors.New("not found")
	ErrTooLarge         = errors.New("file too large")
	ErrDecode           = errors.New("content could not be decoded")
	ErrInvalidPattern   = errors.New("invalid pattern")
	ErrConfig           = errors.New("invalid configuration")
)

// classifyStatErr maps transport stat failures onto the taxonomy. The SFTP
// client normalizes missing paths to fs.ErrNotExist.
func classifyStatErr(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	// Some servers only report the condition in the message.
	if strings.Contains(strings.ToLower(err.Error()), "no such file") {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return fmt.Errorf("stat %s: %w", path, err)
}
