package client

import (
	"errors"

	"whisperd/internal/services"
)

// ErrClosed is returned once the daemon's output has ended.
var ErrClosed = errors.New("daemon connection closed")

// RemoteError is a failure response from the daemon.
type RemoteError struct {
	Kind      services.Kind
	Message   string
	Traceback string
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return "daemon: " + e.Message
	}
	return "daemon: " + e.Message + " (" + string(e.Kind) + ")"
}

// Security reports whether the daemon refused the URL on SSRF grounds.
func (e *RemoteError) Security() bool {
	return services.IsSecurity(e.Kind)
}

// Is lets errors.Is match a RemoteError against a services.Error kind.
func (e *RemoteError) Is(target error) bool {
	var typed *services.Error
	if errors.As(target, &typed) && typed != nil {
		return typed.Kind != "" && typed.Kind == e.Kind
	}
	return false
}
