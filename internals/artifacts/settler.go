package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Oudwins/comfyrunner/internals/logbuf"
	"github.com/Oudwins/comfyrunner/internals/timeouts"
	"github.com/sethvargo/go-retry"
)

var errUnstable = errors.New("file size still changing")

const (
	DefaultAttempts = 10
	DefaultRounds   = 20
)

// StatFunc returns the size of the file at path.
type StatFunc func(path string) (int64, error)

func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

type Settler struct {
	Stat     StatFunc
	Sample   time.Duration
	Attempts int
	// Rounds is how many times a failed check is repeated, Pacing apart.
	// Negative disables repeats.
	Rounds int
	Pacing time.Duration

	Log    *logbuf.Ring
	Logger *slog.Logger
	// OnTimeout, when set, is called for each path that never settled.
	OnTimeout func(path string)
}

type Outcome struct {
	Path   string
	Stable bool
}

func (s *Settler) defaults() {
	if s.Stat == nil {
		s.Stat = FileSize
	}
	if s.Sample <= 0 {
		s.Sample = timeouts.SettleSample
	}
	if s.Attempts <= 0 {
		s.Attempts = DefaultAttempts
	}
	if s.Rounds < 0 {
		s.Rounds = 0
	} else if s.Rounds == 0 {
		s.Rounds = DefaultRounds
	}
	if s.Pacing <= 0 {
		s.Pacing = timeouts.SettlePacing
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
}

// Stable samples the file size twice, Sample apart, up to Attempts times. It
// returns the attempt at which two samples matched, or false when every
// attempt saw a missing or growing file.
func (s *Settler) Stable(ctx context.Context, path string) (int, bool, error) {
	s.defaults()
	for attempt := 1; attempt <= s.Attempts; attempt++ {
		before, err := s.Stat(path)
		if err != nil {
			if !sleep(ctx, s.Sample) {
				return attempt, false, ctx.Err()
			}
			continue
		}
		if !sleep(ctx, s.Sample) {
			return attempt, false, ctx.Err()
		}
		after, err := s.Stat(path)
		if err == nil && before == after {
			return attempt, true, nil
		}
	}
	return s.Attempts, false, nil
}

// Settle waits for every path in turn. Paths that never settle are logged and
// reported as unstable; the only error is ctx cancellation.
func (s *Settler) Settle(ctx context.Context, paths []string) ([]Outcome, error) {
	s.defaults()
	outcomes := make([]Outcome, 0, len(paths))
	for _, path := range paths {
		backoff := retry.WithMaxRetries(uint64(s.Rounds), retry.NewConstant(s.Pacing))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			_, ok, err := s.Stable(ctx, path)
			if err != nil {
				return err
			}
			if !ok {
				return retry.RetryableError(errUnstable)
			}
			return nil
		})
		if err != nil && ctx.Err() != nil {
			return outcomes, ctx.Err()
		}

		outcome := Outcome{Path: path, Stable: err == nil}
		if outcome.Stable {
			s.note(slog.LevelInfo, "image saved: %s", path)
		} else {
			s.note(slog.LevelWarn, "timeout waiting for file: %s", path)
			if s.OnTimeout != nil {
				s.OnTimeout(path)
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Settler) note(level slog.Level, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.Log != nil {
		s.Log.Append(line)
	}
	s.Logger.Log(context.Background(), level, line)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
