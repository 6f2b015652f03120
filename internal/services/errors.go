package services

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a failure class. Values are stable and appear on the wire as
// error_kind.
type Kind string

const (
	KindMalformed               Kind = "Malformed"
	KindSchemeNotAllowed        Kind = "SchemeNotAllowed"
	KindPortNotAllowed          Kind = "PortNotAllowed"
	KindNotAllowlisted          Kind = "NotAllowlisted"
	KindLoopback                Kind = "Loopback"
	KindLinkLocal               Kind = "LinkLocal"
	KindPrivate                 Kind = "Private"
	KindMulticast               Kind = "Multicast"
	KindUnspecified             Kind = "Unspecified"
	KindBroadcast               Kind = "Broadcast"
	KindResolutionFailure       Kind = "ResolutionFailure"
	KindResolvesToUnsafeAddress Kind = "ResolvesToUnsafeAddress"
	KindTempFileError           Kind = "TempFileError"
	KindCertificateError        Kind = "CertificateError"
	KindFetchTimeout            Kind = "FetchTimeout"
	KindFetchError              Kind = "FetchError"
	KindMissingParameter        Kind = "MissingParameter"
	KindInvalidParameter        Kind = "InvalidParameter"
	KindUnknownAction           Kind = "UnknownAction"
	KindEngineError             Kind = "EngineError"
	KindShuttingDown            Kind = "ShuttingDown"
	KindInternalError           Kind = "InternalError"
)

var securityKinds = map[Kind]struct{}{
	KindMalformed:               {},
	KindSchemeNotAllowed:        {},
	KindPortNotAllowed:          {},
	KindNotAllowlisted:          {},
	KindLoopback:                {},
	KindLinkLocal:               {},
	KindPrivate:                 {},
	KindMulticast:               {},
	KindUnspecified:             {},
	KindBroadcast:               {},
	KindResolutionFailure:       {},
	KindResolvesToUnsafeAddress: {},
}

// IsSecurity reports whether kind is an SSRF-class rejection. These are logged
// as security events and never retried.
func IsSecurity(kind Kind) bool {
	_, ok := securityKinds[kind]
	return ok
}

// Error is the typed failure carried across the validate/fetch/engine chain.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	detail := buildDetail(e.Op, e.Detail)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", detail, e.Err)
	}
	return detail
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind so callers can write
// errors.Is(err, &services.Error{Kind: services.KindLoopback}).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Kind != "" && other.Kind == e.Kind && other.Op == "" && other.Detail == ""
}

// Wrap builds a typed error. An empty kind defaults to KindInternalError.
func Wrap(kind Kind, op, detail string, err error) error {
	if kind == "" {
		kind = KindInternalError
	}
	return &Error{Kind: kind, Op: strings.TrimSpace(op), Detail: strings.TrimSpace(detail), Err: err}
}

// Newf builds a typed error with a formatted detail and no cause.
func Newf(kind Kind, op, format string, args ...any) error {
	return Wrap(kind, op, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the outermost Kind in err's chain, or KindInternalError when
// err carries no typed failure.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) && typed != nil {
		return typed.Kind
	}
	return KindInternalError
}

// DetailOf returns the human-readable detail of the outermost typed error, or
// err's message when untyped.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed != nil && typed.Detail != "" {
		return typed.Detail
	}
	return err.Error()
}

func buildDetail(op, detail string) string {
	parts := make([]string, 0, 2)
	if op = strings.TrimSpace(op); op != "" {
		parts = append(parts, op)
	}
	if detail = strings.TrimSpace(detail); detail != "" {
		parts = append(parts, detail)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
