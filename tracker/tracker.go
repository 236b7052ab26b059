// Package tracker records the outcome of every read and seek issued
// against a seekable stream and aggregates that log into reports.
package tracker

import (
	"errors"
	"io"
	"math"
)

// EntryKind discriminates the two shapes an Entry can take.
type EntryKind uint8

const (
	// EntryRange is a successful operation covering a byte range.
	EntryRange EntryKind = iota + 1
	// EntryError is a failed operation.
	EntryError
)

// Range is the half-open byte interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes in the range.
func (r Range) Len() uint64 {
	return r.End - r.Start
}

// Entry is a single tracker log record. Only the field matching Kind
// is meaningful. Use RangeEntry and ErrorEntry to build one.
type Entry struct {
	Kind  EntryKind
	Range Range
	Err   ErrorKind
}

// RangeEntry returns an Entry for a successful operation over r.
func RangeEntry(r Range) Entry {
	return Entry{Kind: EntryRange, Range: r}
}

// ErrorEntry returns an Entry for a failed operation of the given kind.
func ErrorEntry(kind ErrorKind) Entry {
	return Entry{Kind: EntryError, Err: kind}
}

// Origin is the reference point of a seek, mirroring io.Seeker's whence.
type Origin struct {
	Whence int
	Offset int64

	overflow bool
}

// ErrOffsetOverflow is returned when an absolute seek offset does not
// fit in an int64 and thus cannot be handed to an io.Seeker.
var ErrOffsetOverflow = errors.New("seek offset overflows int64")

// FromStart returns an Origin for an absolute position. Offsets above
// math.MaxInt64 make Reader.SeekTo fail with ErrOffsetOverflow.
func FromStart(offset uint64) Origin {
	if offset > math.MaxInt64 {
		return Origin{Whence: io.SeekStart, Offset: math.MaxInt64, overflow: true}
	}

	return Origin{Whence: io.SeekStart, Offset: int64(offset)}
}

// FromCurrent returns an Origin relative to the current position.
func FromCurrent(offset int64) Origin {
	return Origin{Whence: io.SeekCurrent, Offset: offset}
}

// FromEnd returns an Origin relative to the end of the stream.
func FromEnd(offset int64) Origin {
	return Origin{Whence: io.SeekEnd, Offset: offset}
}

// Tracker is an append-only log of read and seek outcomes along with
// the cursor and stream size derived from them.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	entries    []Entry
	pos        uint64
	size       uint64
	sizeKnown  bool
	classifier Classifier
}

// New returns an empty Tracker using DefaultClassifier.
func New() *Tracker {
	return NewWithClassifier(DefaultClassifier)
}

// NewWithClassifier returns an empty Tracker that labels read errors
// with c.
func NewWithClassifier(c Classifier) *Tracker {
	if c == nil {
		c = DefaultClassifier
	}

	return &Tracker{classifier: c}
}

// Read records the outcome of a single io.Reader.Read call and returns
// it unchanged.
//
// io.EOF counts as success: the returned byte count (often zero) is
// logged as a range starting at the cursor. Any other error is logged
// as an error entry and leaves the cursor alone, with one exception: a
// reader may return n > 0 together with an error. Those n bytes have
// left the stream, so the cursor still moves past them even though only
// the error entry is logged and no range covers them.
func (t *Tracker) Read(n int, err error) (int, error) {
	if n < 0 {
		n = 0
	}

	if err != nil && !errors.Is(err, io.EOF) {
		t.entries = append(t.entries, ErrorEntry(t.classify(err)))
		t.pos += uint64(n)

		return n, err
	}

	begin := t.pos
	t.pos += uint64(n)
	t.entries = append(t.entries, RangeEntry(Range{Start: begin, End: t.pos}))

	return n, err
}

func (t *Tracker) classify(err error) ErrorKind {
	if t.classifier == nil {
		return DefaultClassifier(err)
	}

	return t.classifier(err)
}

// Seek records the outcome of a single io.Seeker.Seek call made with o
// and returns it unchanged.
//
// Failed seeks are not logged and leave the tracker untouched. A
// successful end-relative seek overwrites the known stream size. A
// negative position reported without an error is not a valid offset
// and is ignored as well.
func (t *Tracker) Seek(o Origin, pos int64, err error) (int64, error) {
	if err != nil || pos < 0 {
		return pos, err
	}

	t.pos = uint64(pos)

	if o.Whence == io.SeekEnd {
		// size + offset = pos
		t.size = subUint64Int64(t.pos, o.Offset)
		t.sizeKnown = true
	}

	return pos, nil
}

// Pos returns the cursor established by the latest successful call.
func (t *Tracker) Pos() uint64 {
	return t.pos
}

// Size returns the stream size inferred from the latest end-relative
// seek. The bool is false until such a seek succeeded. The size may be
// stale if the stream has been resized since.
func (t *Tracker) Size() (uint64, bool) {
	return t.size, t.sizeKnown
}

// Len returns the number of logged entries.
func (t *Tracker) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the log in call order.
func (t *Tracker) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)

	return out
}

// Snapshot returns an independent copy of the tracker.
func (t *Tracker) Snapshot() *Tracker {
	return &Tracker{
		entries:    t.Entries(),
		pos:        t.pos,
		size:       t.size,
		sizeKnown:  t.sizeKnown,
		classifier: t.classifier,
	}
}

// subUint64Int64 computes lhs - rhs without going through a lossy
// conversion of either operand.
func subUint64Int64(lhs uint64, rhs int64) uint64 {
	if rhs < 0 {
		// -(rhs+1) cannot overflow, even for math.MinInt64.
		return lhs + uint64(-(rhs + 1)) + 1
	}

	return lhs - uint64(rhs)
}
