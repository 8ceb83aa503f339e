// Package prober extracts format metadata from a media file: an open
// tag dictionary for images (decoded locally) and for videos (shelled
// out to ffprobe), behind a single bounded-retry driver.
package prober

import (
	"errors"
	"os"
	"time"
)

// ErrProberMissing indicates the external binary a prober depends on
// (ffprobe) could not be found. It is a hard, non-retried failure.
var ErrProberMissing = errors.New("prober: required binary not found")

// Func parses a single file and returns its open-shaped tag dictionary.
type Func func(path string) (map[string]any, error)

// Budget bounds the retry loop in WithRetry.
type Budget struct {
	MaxNumTry int           // maximum probe attempts
	Timeout   time.Duration // maximum time to wait for the file to appear
}

// WithRetry drives parse against path under the bounded retry policy:
//
//   - if the file does not yet exist, sleep 1 second and count that
//     second against Timeout;
//   - once it exists, attempt a parse; on failure sleep 3 seconds and
//     retry without consuming a Timeout tick, but counting against
//     MaxNumTry;
//   - a parse error that is ErrProberMissing is never retried.
//
// It exits on success, or when either budget is exhausted.
func WithRetry(path string, parse Func, budget Budget) (map[string]any, error) {
	numTry := 0
	waited := time.Duration(0)

	for {
		if numTry >= budget.MaxNumTry {
			return nil, errors.New("prober: exceeded max attempts")
		}
		if waited >= budget.Timeout {
			return nil, errors.New("prober: timed out waiting for file")
		}

		if _, err := os.Stat(path); err != nil {
			time.Sleep(1 * time.Second)
			waited += time.Second
			continue
		}

		numTry++
		tags, err := parse(path)
		if err == nil {
			return tags, nil
		}
		if errors.Is(err, ErrProberMissing) {
			return nil, err
		}
		time.Sleep(3 * time.Second)
	}
}
