package tracker

import (
	"errors"
	"io"

	"go.uber.org/zap"
)

var _ io.ReadSeekCloser = &Reader{}

// Observer is notified after every call the Reader forwards. It is
// meant for metrics and must not call back into the Reader.
type Observer interface {
	// ObserveRead is called after a read. kind is only meaningful when
	// failed is true.
	ObserveRead(n int, kind ErrorKind, failed bool)

	// ObserveSeek is called after a seek.
	ObserveSeek(whence int, failed bool)

	// ObservePosition is called with the tracker state after any call.
	ObservePosition(pos uint64, size uint64, sizeKnown bool)
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithLogger makes the Reader log every call at debug level.
func WithLogger(l *zap.SugaredLogger) ReaderOption {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) ReaderOption {
	return func(r *Reader) {
		r.observer = o
	}
}

// WithClassifier sets the Classifier used to label read errors.
func WithClassifier(c Classifier) ReaderOption {
	return func(r *Reader) {
		r.classifier = c
	}
}

// Reader wraps an io.ReadSeeker and records every Read and Seek into a
// Tracker. Results of the inner stream are returned unmodified.
//
// Like the Tracker it owns, a Reader is not safe for concurrent use.
type Reader struct {
	rs         io.ReadSeeker
	track      *Tracker
	logger     *zap.SugaredLogger
	observer   Observer
	classifier Classifier
}

// NewReader rewinds rs and returns a Reader with an empty Tracker.
// If rewinding fails the error from rs is returned as-is.
func NewReader(rs io.ReadSeeker, opts ...ReaderOption) (*Reader, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	r := &Reader{
		rs:         rs,
		logger:     zap.NewNop().Sugar(),
		classifier: DefaultClassifier,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.classifier == nil {
		r.classifier = DefaultClassifier
	}

	r.track = NewWithClassifier(r.classifier)

	return r, nil
}

// Tracker returns the Reader's tracker. Callers must treat it as
// read-only.
func (r *Reader) Tracker() *Tracker {
	return r.track
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	begin := r.track.Pos()

	n, err := r.track.Read(r.rs.Read(p))

	failed := err != nil && !errors.Is(err, io.EOF)
	if failed {
		r.logger.Debugf("read of %d bytes at %d failed - %v", len(p), begin, err)
	} else {
		r.logger.Debugf("read %d of %d bytes at %d", n, len(p), begin)
	}

	if r.observer != nil {
		var kind ErrorKind
		if failed {
			kind = r.classifier(err)
		}

		r.observer.ObserveRead(n, kind, failed)
		r.notifyPosition()
	}

	return n, err
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	o := Origin{Whence: whence, Offset: offset}

	spos, serr := r.rs.Seek(offset, whence)

	pos, err := r.track.Seek(o, spos, serr)
	if err != nil {
		r.logger.Debugf("seek %d (whence %d) failed - %v", offset, whence, err)
	} else {
		r.logger.Debugf("seek %d (whence %d) -> %d", offset, whence, pos)
	}

	if r.observer != nil {
		r.observer.ObserveSeek(whence, err != nil)
		r.notifyPosition()
	}

	return pos, err
}

// SeekTo is a typed variant of Seek.
func (r *Reader) SeekTo(o Origin) (uint64, error) {
	if o.overflow {
		return 0, ErrOffsetOverflow
	}

	_, err := r.Seek(o.Offset, o.Whence)
	if err != nil {
		return 0, err
	}

	return r.track.Pos(), nil
}

// Close closes the wrapped stream if it implements io.Closer.
func (r *Reader) Close() error {
	if c, ok := r.rs.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

func (r *Reader) notifyPosition() {
	size, known := r.track.Size()
	r.observer.ObservePosition(r.track.Pos(), size, known)
}
