package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// openFileUntilSuccess opens filePath, retrying with an exponential
// backoff until it succeeds, maxElapsed passes or ctx is done. A zero
// maxElapsed retries until ctx is done. Directories are rejected
// without retrying.
func openFileUntilSuccess(ctx context.Context, filePath string, maxElapsed time.Duration) (*os.File, error) {
	var f *os.File

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxElapsed

	err := backoff.RetryNotify(func() error {
		info, err := os.Stat(filePath)
		if err != nil {
			return err
		}

		if info.IsDir() {
			return backoff.Permanent(fmt.Errorf("'%s' is a directory", filePath))
		}

		f, err = os.Open(filePath)
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warnf("failed to open '%s', retrying in %s - %v", filePath, next, err)
	})
	if err != nil {
		return nil, err
	}

	return f, nil
}
