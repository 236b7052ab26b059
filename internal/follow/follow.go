// Package follow keeps reading a file through a tracked reader as data
// is appended to it.
package follow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/metal-toolbox/tracked-reader/tracker"
)

// FollowerComponentName is the health component name of a Follower.
const FollowerComponentName = "follower"

var (
	// ErrFileRemoved is returned by Wait when the followed file was
	// removed or renamed. The tracked stream still refers to the old
	// file, so following stops.
	ErrFileRemoved = errors.New("followed file was removed or renamed")

	errWatcherClosed = errors.New("file watcher was closed")
)

// UpdateFunc is called after new data was read. It runs on the
// follower's goroutine, so it may inspect the tracker safely.
type UpdateFunc func(t *tracker.Tracker)

// Follower reads data appended to a file through a tracker.Reader.
// Once started, the Follower owns the reader until Wait returns.
type Follower struct {
	filePath string
	reader   *tracker.Reader
	watcher  fsWatcher
	logger   logr.Logger
	onUpdate UpdateFunc
	offset   uint64
	done     chan struct{}
	err      error
}

// Start watches filePath for writes and reads every appended byte
// through r, starting at the current end of the file.
//
// The follower can be stopped by cancelling the provided context.
// After cancellation, users should call Wait to ensure the watcher
// has been released.
func Start(ctx context.Context, filePath string, r *tracker.Reader, logger logr.Logger, onUpdate UpdateFunc) (*Follower, error) {
	if filePath == "" {
		return nil, errors.New("file path is empty")
	}

	// Get the absolute file path so that it matches the Name field
	// of fsnotify.Event.
	filePath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for '%s' - %w", filePath, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create new fsnotify.Watcher - %w", err)
	}

	// Watch the parent directory so that removals and renames are
	// reported with the file's name.
	err = watcher.Add(filepath.Dir(filePath))
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to add dir of '%s' to watcher - %w", filePath, err)
	}

	f, err := start(ctx, filePath, r, &fsnotifyWatcher{watcher: watcher}, logger, onUpdate)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return f, nil
}

func start(ctx context.Context, filePath string, r *tracker.Reader, w fsWatcher, logger logr.Logger, onUpdate UpdateFunc) (*Follower, error) {
	end, err := r.SeekTo(tracker.FromEnd(0))
	if err != nil {
		return nil, fmt.Errorf("failed to seek to end of '%s' - %w", filePath, err)
	}

	if onUpdate == nil {
		onUpdate = func(*tracker.Tracker) {}
	}

	f := &Follower{
		filePath: filePath,
		reader:   r,
		watcher:  w,
		logger:   logger.WithValues("file", filePath),
		onUpdate: onUpdate,
		offset:   end,
		done:     make(chan struct{}),
	}

	go f.loop(ctx)

	return f, nil
}

// Wait waits for the follower to exit and returns the reason. When
// cancelled, the error contains context.Canceled.
func (o *Follower) Wait() error {
	<-o.done
	return o.err
}

// Done returns a channel that is closed once the follower exited.
func (o *Follower) Done() <-chan struct{} {
	return o.done
}

func (o *Follower) loop(ctx context.Context) {
	err := o.loopWithError(ctx)

	_ = o.watcher.Close()
	o.err = err

	close(o.done)
}

func (o *Follower) loopWithError(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-o.watcher.Events():
			if !ok {
				return errWatcherClosed
			}

			if event.Name != o.filePath {
				continue
			}

			err := o.handle(event.Op)
			if err != nil {
				return err
			}
		case err, ok := <-o.watcher.Errors():
			if !ok {
				return errWatcherClosed
			}

			// These are reported as non-fatal by fsnotify.
			o.logger.Error(err, "file watcher reported an error")
		}
	}
}

func (o *Follower) handle(op fsnotify.Op) error {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return ErrFileRemoved
	case op.Has(fsnotify.Write):
		// break.
	default:
		return nil
	}

	n, err := o.readAppended()
	if err != nil {
		return fmt.Errorf("failed to read appended data - %w", err)
	}

	o.logger.V(1).Info("read appended data", "bytes", n, "offset", o.offset)
	o.onUpdate(o.reader.Tracker())

	return nil
}

// readAppended refreshes the known file size, rewinds if the file was
// truncated, and reads from the last offset to the end of the file.
func (o *Follower) readAppended() (int64, error) {
	size, err := o.reader.SeekTo(tracker.FromEnd(0))
	if err != nil {
		return 0, err
	}

	if size < o.offset {
		o.logger.Info("file was truncated, reading from the start",
			"size", size, "previousOffset", o.offset)
		o.offset = 0
	}

	_, err = o.reader.SeekTo(tracker.FromStart(o.offset))
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(io.Discard, o.reader)
	o.offset += uint64(n)

	return n, err
}

// fsWatcher abstracts file system event watchers.
type fsWatcher interface {
	// Events returns a read-only channel that receives fsnotify.Event
	// when a file system event occurs.
	Events() <-chan fsnotify.Event

	// Errors returns a read-only channel of watcher errors.
	Errors() <-chan error

	// Close closes the fsWatcher.
	Close() error
}

// fsnotifyWatcher implements the fsWatcher for the fsnotify.Watcher type.
type fsnotifyWatcher struct {
	watcher *fsnotify.Watcher
}

func (o *fsnotifyWatcher) Events() <-chan fsnotify.Event {
	return o.watcher.Events
}

func (o *fsnotifyWatcher) Errors() <-chan error {
	return o.watcher.Errors
}

func (o *fsnotifyWatcher) Close() error {
	return o.watcher.Close()
}
