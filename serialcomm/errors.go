package serialcomm

import (
	"errors"
	"fmt"
)

var (
	ErrPortBusy      = errors.New("port is held by another session")
	ErrOpenTimeout   = errors.New("timed out opening port")
	ErrShortWrite    = errors.New("partial frame write")
	ErrSessionClosed = errors.New("session closed")
	ErrUnknownDriver = errors.New("unknown serial driver")

	ErrMalformed          = errors.New("malformed frame")
	ErrChecksumInvalid    = errors.New("frame checksum invalid")
	ErrUnsupportedVersion = errors.New("unsupported frame version")
)

// ValidationError names the first field of a record that is out of its domain.
type ValidationError struct {
	Field  string
	Value  uint64
	Min    uint64
	Max    uint64
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %d out of range [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

type FrameErrorKind int

const (
	FrameMalformed FrameErrorKind = iota
	FrameChecksumInvalid
	FrameUnsupportedVersion
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameMalformed:
		return "malformed"
	case FrameChecksumInvalid:
		return "checksum invalid"
	case FrameUnsupportedVersion:
		return "unsupported version"
	}
	return fmt.Sprintf("FrameErrorKind(%d)", int(k))
}

// FrameError is returned by Decode. It matches ErrMalformed,
// ErrChecksumInvalid or ErrUnsupportedVersion via errors.Is.
type FrameError struct {
	Kind   FrameErrorKind
	Detail string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v: %s", e.Unwrap(), e.Detail)
}

func (e *FrameError) Unwrap() error {
	switch e.Kind {
	case FrameChecksumInvalid:
		return ErrChecksumInvalid
	case FrameUnsupportedVersion:
		return ErrUnsupportedVersion
	}
	return ErrMalformed
}

// RejectError lets a receiver callback choose the code sent back to the host.
type RejectError struct {
	Code   byte
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("rejected with code 0x%02X: %s", e.Code, e.Reason)
}
