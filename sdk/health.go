package sdk

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Oudwins/comfyrunner/internals/timeouts"
)

const (
	DefaultPingTimeout = timeouts.Probe
	startInitialDelay  = 500 * time.Millisecond
	startAttempts      = 6
)

var errNotRunning = errors.New("daemon not responding")

type InfoLogger interface {
	Info(msg string, args ...any)
}

func IsRunning(baseURL string) bool {
	return IsRunningWithTimeout(baseURL, DefaultPingTimeout)
}

func IsRunningWithTimeout(baseURL string, timeout time.Duration) bool {
	if baseURL == "" {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client := NewClient(
		WithBaseURL(baseURL),
		WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	_, err := client.Version(ctx)
	return err == nil
}

// WaitForStart polls the daemon with exponential backoff until it answers.
func WaitForStart(baseURL string, logger InfoLogger) bool {
	return waitForStart(context.Background(), baseURL, logger, startInitialDelay)
}

func waitForStart(ctx context.Context, baseURL string, logger InfoLogger, base time.Duration) bool {
	backoff := retry.WithMaxRetries(startAttempts, retry.NewExponential(base))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if logger != nil {
			logger.Info("Waiting for server to start", "attempt", attempt)
		}
		attempt++
		if IsRunning(baseURL) {
			return nil
		}
		return retry.RetryableError(errNotRunning)
	})
	return err == nil
}
