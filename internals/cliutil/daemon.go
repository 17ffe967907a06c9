package cliutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Oudwins/comfyrunner/internals/timeouts"
	"github.com/Oudwins/comfyrunner/internals/version"
	"github.com/Oudwins/comfyrunner/sdk"
)

const daemonPolls = 8

var errStillRunning = errors.New("daemon still answering")

// EnsureDaemonRunning starts the daemon when nothing answers and replaces it
// when it was built from a different binary.
func EnsureDaemonRunning(client *sdk.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Probe)
	defer cancel()

	if remote, err := client.Version(ctx); err == nil {
		local := version.Version()
		if strings.TrimSpace(remote) == local {
			return nil
		}
		return replaceDaemon(client, remote)
	}

	if err := StartDaemon(); err != nil {
		return err
	}

	return waitForDaemon(client)
}

func StartDaemon() error {
	path, err := findServeBinary()
	if err != nil {
		return err
	}

	cmd := exec.Command(path, "serve")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func pollBackoff() retry.Backoff {
	return retry.WithMaxRetries(daemonPolls, retry.NewFibonacci(150*time.Millisecond))
}

func waitForDaemon(client *sdk.Client) error {
	err := retry.Do(context.Background(), pollBackoff(), func(context.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Probe)
		defer cancel()
		if _, err := client.Version(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reach comfyrunner daemon: %w", err)
	}
	return nil
}

func replaceDaemon(client *sdk.Client, remoteVersion string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
	defer cancel()

	remoteVersion = strings.TrimSpace(remoteVersion)
	if err := client.Shutdown(ctx); err != nil {
		if errors.Is(err, sdk.ErrShutdownUnsupported) {
			return fmt.Errorf("comfyrunner daemon %s is running; please stop it and retry", remoteVersion)
		}
		return fmt.Errorf("failed to shutdown comfyrunner daemon %s: %w", remoteVersion, err)
	}

	if err := waitForDaemonStop(client); err != nil {
		return fmt.Errorf("comfyrunner daemon %s did not stop: %w", remoteVersion, err)
	}

	if err := StartDaemon(); err != nil {
		return err
	}

	return waitForDaemon(client)
}

func waitForDaemonStop(client *sdk.Client) error {
	return retry.Do(context.Background(), pollBackoff(), func(context.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Probe)
		defer cancel()
		if _, err := client.Version(ctx); err == nil {
			return retry.RetryableError(errStillRunning)
		}
		return nil
	})
}

func findServeBinary() (string, error) {
	executable, err := os.Executable()
	if err == nil && executable != "" {
		return executable, nil
	}

	path, err := exec.LookPath("comfyrunner")
	if err != nil {
		return "", fmt.Errorf("comfyrunner not found in PATH")
	}
	return path, nil
}
