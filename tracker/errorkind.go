package tracker

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"syscall"
)

// ErrorKind is an opaque label attached to a failed operation. The
// tracker only counts kinds, it never acts on them.
type ErrorKind string

const (
	KindUnexpectedEOF    ErrorKind = "unexpected end of file"
	KindNotFound         ErrorKind = "entity not found"
	KindPermissionDenied ErrorKind = "permission denied"
	KindAlreadyExists    ErrorKind = "entity already exists"
	KindClosed           ErrorKind = "file already closed"
	KindInvalidInput     ErrorKind = "invalid input parameter"
	KindTimedOut         ErrorKind = "timed out"
	KindBrokenPipe       ErrorKind = "broken pipe"
	KindShortBuffer      ErrorKind = "short buffer"
	KindNoProgress       ErrorKind = "no progress"
	KindUnsupported      ErrorKind = "unsupported"
	KindOther            ErrorKind = "other"
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	return string(k)
}

// Classifier maps an error returned by the wrapped stream to a kind.
type Classifier func(error) ErrorKind

// DefaultClassifier recognizes the standard library's I/O sentinel
// errors, including ones carried by *fs.PathError and syscall.Errno.
// Everything else is KindOther.
func DefaultClassifier(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, io.ErrUnexpectedEOF):
		return KindUnexpectedEOF
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, fs.ErrClosed):
		return KindClosed
	case errors.Is(err, fs.ErrInvalid), errors.Is(err, syscall.EINVAL):
		return KindInvalidInput
	case errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimedOut
	case errors.Is(err, io.ErrClosedPipe), errors.Is(err, syscall.EPIPE):
		return KindBrokenPipe
	case errors.Is(err, io.ErrShortBuffer):
		return KindShortBuffer
	case errors.Is(err, io.ErrNoProgress):
		return KindNoProgress
	case errors.Is(err, errors.ErrUnsupported):
		return KindUnsupported
	default:
		return KindOther
	}
}
