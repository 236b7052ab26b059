package follow

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metal-toolbox/tracked-reader/internal/testtools"
	"github.com/metal-toolbox/tracked-reader/tracker"
)

type testWatcher struct {
	events chan fsnotify.Event
	errs   chan error
	closed chan struct{}
}

func newTestWatcher() *testWatcher {
	return &testWatcher{
		events: make(chan fsnotify.Event),
		errs:   make(chan error),
		closed: make(chan struct{}),
	}
}

func (o *testWatcher) Events() <-chan fsnotify.Event {
	return o.events
}

func (o *testWatcher) Errors() <-chan error {
	return o.errs
}

func (o *testWatcher) Close() error {
	close(o.closed)
	return nil
}

type update struct {
	pos  uint64
	size uint64
}

func startTestFollower(t *testing.T, ctx context.Context, data []byte) (string, *testWatcher, *Follower, <-chan update) {
	t.Helper()

	filePath := testtools.WriteTempFile(t, "followed.log", data)

	f, err := os.Open(filePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	r, err := tracker.NewReader(f)
	require.NoError(t, err)

	updates := make(chan update, 10)
	w := newTestWatcher()

	follower, err := start(ctx, filePath, r, w, logr.Discard(), func(tr *tracker.Tracker) {
		size, _ := tr.Size()
		updates <- update{pos: tr.Pos(), size: size}
	})
	require.NoError(t, err)

	return filePath, w, follower, updates
}

func appendToFile(t *testing.T, filePath string, data string) {
	t.Helper()

	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)

	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func sendEvent(t *testing.T, ctx context.Context, w *testWatcher, event fsnotify.Event) {
	t.Helper()

	select {
	case <-ctx.Done():
		t.Fatal(ctx.Err())
	case w.events <- event:
	}
}

func waitUpdate(t *testing.T, ctx context.Context, updates <-chan update) update {
	t.Helper()

	select {
	case <-ctx.Done():
		t.Fatal(ctx.Err())
		return update{}
	case u := <-updates:
		return u
	}
}

func TestFollower_ReadsAppendedData(t *testing.T) {
	t.Parallel()

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	filePath, w, follower, updates := startTestFollower(t, ctx, []byte("hello"))

	appendToFile(t, filePath, " world")
	sendEvent(t, ctx, w, fsnotify.Event{Name: filePath, Op: fsnotify.Write})

	u := waitUpdate(t, ctx, updates)
	assert.Equal(t, update{pos: 11, size: 11}, u)

	appendToFile(t, filePath, "!")
	sendEvent(t, ctx, w, fsnotify.Event{Name: filePath, Op: fsnotify.Write})

	u = waitUpdate(t, ctx, updates)
	assert.Equal(t, update{pos: 12, size: 12}, u)

	cancelFn()

	err := follower.Wait()
	assert.ErrorIs(t, err, context.Canceled)

	<-w.closed

	rep := tracker.NewReport(follower.reader.Tracker()).Serialize()
	assert.Equal(t, uint64(12), rep.Metadata.CurrentPosition)
	assert.Empty(t, rep.IOErrors)
	assert.NotEmpty(t, rep.IOOperations)
}

func TestFollower_IgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	filePath, w, follower, updates := startTestFollower(t, ctx, []byte("hello"))

	sendEvent(t, ctx, w, fsnotify.Event{Name: filePath + ".1", Op: fsnotify.Write})
	sendEvent(t, ctx, w, fsnotify.Event{Name: filePath, Op: fsnotify.Chmod})

	appendToFile(t, filePath, "!")
	sendEvent(t, ctx, w, fsnotify.Event{Name: filePath, Op: fsnotify.Write})

	u := waitUpdate(t, ctx, updates)
	assert.Equal(t, uint64(6), u.pos)
	assert.Len(t, updates, 0)

	cancelFn()
	assert.ErrorIs(t, follower.Wait(), context.Canceled)
}

func TestFollower_Truncated(t *testing.T) {
	t.Parallel()

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	filePath, w, follower, updates := startTestFollower(t, ctx, []byte("0123456789"))

	require.NoError(t, os.WriteFile(filePath, []byte("abcd"), 0o600))
	sendEvent(t, ctx, w, fsnotify.Event{Name: filePath, Op: fsnotify.Write})

	u := waitUpdate(t, ctx, updates)
	assert.Equal(t, update{pos: 4, size: 4}, u)

	cancelFn()
	assert.ErrorIs(t, follower.Wait(), context.Canceled)
}

func TestFollower_Removed(t *testing.T) {
	t.Parallel()

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	filePath, w, follower, _ := startTestFollower(t, ctx, []byte("hello"))

	sendEvent(t, ctx, w, fsnotify.Event{Name: filePath, Op: fsnotify.Rename})

	assert.ErrorIs(t, follower.Wait(), ErrFileRemoved)

	select {
	case <-follower.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestFollower_WatcherErrorsAreNotFatal(t *testing.T) {
	t.Parallel()

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	filePath, w, follower, updates := startTestFollower(t, ctx, []byte("hello"))

	select {
	case <-ctx.Done():
		t.Fatal(ctx.Err())
	case w.errs <- errors.New("queue overflow"):
	}

	appendToFile(t, filePath, "!")
	sendEvent(t, ctx, w, fsnotify.Event{Name: filePath, Op: fsnotify.Write})

	u := waitUpdate(t, ctx, updates)
	assert.Equal(t, uint64(6), u.pos)

	cancelFn()
	assert.ErrorIs(t, follower.Wait(), context.Canceled)
}

func TestFollower_WatcherClosed(t *testing.T) {
	t.Parallel()

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	_, w, follower, _ := startTestFollower(t, ctx, []byte("hello"))

	close(w.events)

	assert.ErrorIs(t, follower.Wait(), errWatcherClosed)
}

func TestStart_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Start(context.Background(), "", nil, logr.Discard(), nil)
	assert.Error(t, err)
}

func TestStart_RealWatcher(t *testing.T) {
	t.Parallel()

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	filePath := testtools.WriteTempFile(t, "real.log", []byte("hello"))

	f, err := os.Open(filePath)
	require.NoError(t, err)
	defer f.Close()

	r, err := tracker.NewReader(f)
	require.NoError(t, err)

	follower, err := Start(ctx, filePath, r, logr.Discard(), nil)
	require.NoError(t, err)

	size, known := r.Tracker().Size()
	assert.True(t, known)
	assert.Equal(t, uint64(5), size)

	cancelFn()
	assert.ErrorIs(t, follower.Wait(), context.Canceled)
}
