package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindPermissionDenied
	KindTimeout
	KindServerRejected
	KindNotConnected
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTimeout:
		return "timeout"
	case KindServerRejected:
		return "server_rejected"
	case KindNotConnected:
		return "not_connected"
	case KindInvalid:
		return "invalid"
	}
	return "unknown"
}

var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectivityLost = errors.New("connectivity lost")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotInVoice       = errors.New("not in a voice channel")
	ErrJoinInProgress   = errors.New("voice join already in progress")
	ErrNoMediaDevice    = errors.New("no media device")
)

// Error is the single error type surfaced to the UI layer.
type Error struct {
	Kind   Kind
	Op     string
	Status int // HTTP status for KindServerRejected, zero otherwise
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := e.Op + ": " + e.Kind.String()
	if e.Status != 0 {
		s += fmt.Sprintf(" (%d)", e.Status)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// E is a tiny helper to avoid ad-hoc struct literals in adapters.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrConnectivityLost):
		return KindNotConnected
	}
	return KindUnknown
}
