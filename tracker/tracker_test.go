package tracker

import (
	"errors"
	"io"
	"io/fs"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tr := New()

	assert.Equal(t, uint64(0), tr.Pos())
	assert.Equal(t, 0, tr.Len())

	_, known := tr.Size()
	assert.False(t, known)
}

func TestTracker_Read_AdvancesCursor(t *testing.T) {
	t.Parallel()

	tr := New()

	n, err := tr.Read(8, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	_, _ = tr.Read(2, nil)

	assert.Equal(t, uint64(10), tr.Pos())
	assert.Equal(t, []Entry{
		RangeEntry(Range{Start: 0, End: 8}),
		RangeEntry(Range{Start: 8, End: 10}),
	}, tr.Entries())
}

func TestTracker_Read_ZeroLength(t *testing.T) {
	t.Parallel()

	tr := New()
	_, _ = tr.Seek(FromStart(5), 5, nil)

	n, err := tr.Read(0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, uint64(5), tr.Pos())
	assert.Equal(t, []Entry{RangeEntry(Range{Start: 5, End: 5})}, tr.Entries())
}

func TestTracker_Read_EOFIsSuccess(t *testing.T) {
	t.Parallel()

	tr := New()
	_, _ = tr.Seek(FromStart(3), 3, nil)

	n, err := tr.Read(2, io.EOF)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, uint64(5), tr.Pos())
	assert.Equal(t, []Entry{RangeEntry(Range{Start: 3, End: 5})}, tr.Entries())
}

func TestTracker_Read_Error(t *testing.T) {
	t.Parallel()

	tr := New()
	_, _ = tr.Read(4, nil)
	_, _ = tr.Seek(FromEnd(0), 100, nil)

	readErr := &fs.PathError{Op: "read", Path: "/foo/bar", Err: fs.ErrPermission}

	n, err := tr.Read(0, readErr)
	assert.Equal(t, 0, n)
	assert.Same(t, readErr, err)

	assert.Equal(t, uint64(100), tr.Pos())

	size, known := tr.Size()
	assert.True(t, known)
	assert.Equal(t, uint64(100), size)

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, ErrorEntry(KindPermissionDenied), entries[1])
}

func TestTracker_Read_PartialWithError(t *testing.T) {
	t.Parallel()

	tr := New()

	n, err := tr.Read(3, io.ErrUnexpectedEOF)
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// The three bytes were consumed, so the cursor moves even though the
	// read failed and only the error is logged.
	assert.Equal(t, uint64(3), tr.Pos())
	assert.Equal(t, []Entry{ErrorEntry(KindUnexpectedEOF)}, tr.Entries())
}

func TestTracker_Read_CustomClassifier(t *testing.T) {
	t.Parallel()

	tr := NewWithClassifier(func(error) ErrorKind {
		return "custom"
	})

	_, _ = tr.Read(0, errors.New("boom"))

	assert.Equal(t, []Entry{ErrorEntry("custom")}, tr.Entries())
}

func TestTracker_Read_ZeroValue(t *testing.T) {
	t.Parallel()

	var tr Tracker

	_, _ = tr.Read(0, errors.New("boom"))

	assert.Equal(t, []Entry{ErrorEntry(KindOther)}, tr.Entries())
}

func TestTracker_Seek_SetsCursor(t *testing.T) {
	t.Parallel()

	tr := New()

	pos, err := tr.Seek(FromStart(14), 14, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(14), pos)
	assert.Equal(t, uint64(14), tr.Pos())

	_, _ = tr.Seek(FromCurrent(-2), 12, nil)
	assert.Equal(t, uint64(12), tr.Pos())

	_, known := tr.Size()
	assert.False(t, known)

	// Seeks never produce log entries.
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_Seek_Error(t *testing.T) {
	t.Parallel()

	tr := New()
	_, _ = tr.Read(8, nil)

	seekErr := errors.New("invalid whence")

	_, err := tr.Seek(FromEnd(-1), 0, seekErr)
	assert.Same(t, seekErr, err)

	assert.Equal(t, uint64(8), tr.Pos())
	assert.Equal(t, 1, tr.Len())

	_, known := tr.Size()
	assert.False(t, known)
}

func TestTracker_Seek_NegativePosition(t *testing.T) {
	t.Parallel()

	tr := New()
	_, _ = tr.Read(8, nil)

	pos, err := tr.Seek(FromEnd(-20), -5, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(-5), pos)

	assert.Equal(t, uint64(8), tr.Pos())
	_, known := tr.Size()
	assert.False(t, known)

	_, _ = tr.Read(4, nil)
	assert.Equal(t, RangeEntry(Range{Start: 8, End: 12}), tr.Entries()[1])
	assert.Equal(t, map[uint64]uint64{0: 2}, NewReport(tr).Serialize().IOOperations)
}

func TestTracker_Seek_SizeNegativeOffset(t *testing.T) {
	t.Parallel()

	tr := New()

	_, err := tr.Seek(FromEnd(-10), 90, nil)
	require.NoError(t, err)

	size, known := tr.Size()
	assert.True(t, known)
	assert.Equal(t, uint64(100), size)
	assert.Equal(t, uint64(90), tr.Pos())
}

func TestTracker_Seek_SizeZeroOffset(t *testing.T) {
	t.Parallel()

	tr := New()

	_, err := tr.Seek(FromEnd(0), 100, nil)
	require.NoError(t, err)

	size, known := tr.Size()
	assert.True(t, known)
	assert.Equal(t, uint64(100), size)
}

func TestTracker_Seek_SizePositiveOffset(t *testing.T) {
	t.Parallel()

	tr := New()

	_, err := tr.Seek(FromEnd(5), 105, nil)
	require.NoError(t, err)

	size, known := tr.Size()
	assert.True(t, known)
	assert.Equal(t, uint64(100), size)
	assert.Equal(t, uint64(105), tr.Pos())
}

func TestTracker_Seek_SizeOverwritten(t *testing.T) {
	t.Parallel()

	tr := New()

	_, _ = tr.Seek(FromEnd(0), 100, nil)
	_, _ = tr.Seek(FromEnd(-1), 49, nil)

	size, _ := tr.Size()
	assert.Equal(t, uint64(50), size)

	// Non end-relative seeks keep the last known size.
	_, _ = tr.Seek(FromStart(0), 0, nil)

	size, known := tr.Size()
	assert.True(t, known)
	assert.Equal(t, uint64(50), size)
}

func TestSubUint64Int64(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(15), subUint64Int64(10, -5))
	assert.Equal(t, uint64(10), subUint64Int64(10, 0))
	assert.Equal(t, uint64(5), subUint64Int64(10, 5))
	assert.Equal(t, uint64(1)<<63, subUint64Int64(0, math.MinInt64))
	assert.Equal(t, uint64(math.MaxUint64), subUint64Int64(math.MaxInt64, math.MinInt64))
}

func TestTracker_Entries_IsCopy(t *testing.T) {
	t.Parallel()

	tr := New()
	_, _ = tr.Read(1, nil)

	entries := tr.Entries()
	entries[0] = ErrorEntry(KindOther)

	assert.Equal(t, RangeEntry(Range{Start: 0, End: 1}), tr.Entries()[0])
}

func TestTracker_Snapshot(t *testing.T) {
	t.Parallel()

	tr := New()
	_, _ = tr.Read(4, nil)

	snap := tr.Snapshot()

	_, _ = tr.Read(4, nil)
	_, _ = tr.Seek(FromEnd(0), 64, nil)

	assert.Equal(t, uint64(4), snap.Pos())
	assert.Equal(t, 1, snap.Len())

	_, known := snap.Size()
	assert.False(t, known)
}

func TestRange_Len(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(0), Range{Start: 7, End: 7}.Len())
	assert.Equal(t, uint64(70), Range{Start: 60, End: 130}.Len())
}

func TestFromStart_Overflow(t *testing.T) {
	t.Parallel()

	o := FromStart(math.MaxUint64)
	assert.True(t, o.overflow)
	assert.Equal(t, io.SeekStart, o.Whence)

	o = FromStart(math.MaxInt64)
	assert.False(t, o.overflow)
	assert.Equal(t, int64(math.MaxInt64), o.Offset)
}
