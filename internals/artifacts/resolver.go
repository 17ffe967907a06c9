// Package artifacts finds the files a finished job wrote and waits for them
// to stop growing.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/Oudwins/comfyrunner/internals/comfy"
	"github.com/Oudwins/comfyrunner/internals/logbuf"
	"github.com/Oudwins/comfyrunner/internals/timeouts"
	"github.com/sethvargo/go-retry"
)

var errNoOutputs = errors.New("history has no image outputs yet")

type HistoryFetcher interface {
	History(ctx context.Context, jobID string) (comfy.History, error)
}

type Resolver struct {
	History   HistoryFetcher
	OutputDir string
	Interval  time.Duration

	Log    *logbuf.Ring
	Logger *slog.Logger
}

// Resolve polls the job's history until it lists at least one image and
// returns the local paths. Fetch failures count as not ready; only ctx ends
// the polling early.
func (r *Resolver) Resolve(ctx context.Context, jobID string) ([]string, error) {
	interval := r.Interval
	if interval <= 0 {
		interval = timeouts.HistoryPoll
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job_id", jobID))

	var paths []string
	err := retry.Do(ctx, retry.NewConstant(interval), func(ctx context.Context) error {
		history, err := r.History.History(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("history fetch failed", slog.Any("error", err))
			return retry.RetryableError(err)
		}
		entry, ok := history[jobID]
		if !ok {
			logger.Debug("job not in history yet")
			return retry.RetryableError(errNoOutputs)
		}
		found := Paths(r.OutputDir, entry)
		if len(found) == 0 {
			logger.Warn("history has no image paths yet")
			return retry.RetryableError(errNoOutputs)
		}
		paths = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", jobID, err)
	}

	if r.Log != nil {
		for _, path := range paths {
			r.Log.Appendf("Output resolved: %s", path)
		}
	}
	logger.Info("outputs resolved", slog.Int("count", len(paths)))
	return paths, nil
}

// Paths maps every image of every output node to root/[subfolder/]filename,
// ordered by node id.
func Paths(root string, entry comfy.HistoryEntry) []string {
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool {
		if len(nodeIDs[i]) != len(nodeIDs[j]) {
			return len(nodeIDs[i]) < len(nodeIDs[j])
		}
		return nodeIDs[i] < nodeIDs[j]
	})

	paths := []string{}
	for _, id := range nodeIDs {
		for _, image := range entry.Outputs[id].Images {
			if image.Filename == "" {
				continue
			}
			paths = append(paths, filepath.Join(root, image.Subfolder, image.Filename))
		}
	}
	return paths
}
