package failsink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"amese/labsync/internal/delivery"
	"amese/labsync/internal/model"
	"amese/labsync/internal/transform"
	"amese/labsync/pkg/logger"
)

// Transformer rebuilds the payload from a recorded aggregate.
type Transformer interface {
	Transform(ctx context.Context, ev *model.Event) (*transform.Payload, error)
}

// Deliverer re-sends the rebuilt payload.
type Deliverer interface {
	Deliver(ctx context.Context, payload *transform.Payload, orderID int64) delivery.Outcome
}

// ReplayOptions selects which records to replay and what to do with them.
// Files wins over Dir when both are set. Replay never touches the watermark.
type ReplayOptions struct {
	Dir    string
	Files  []string
	Limit  int    // 0 = no limit
	MoveTo string // relocate successful records here; "" = leave in place
}

// ReplayResult summarizes one replay run.
type ReplayResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// collectFiles returns the record paths to process, sorted by name (the
// timestamp prefix makes that chronological).
func collectFiles(opts ReplayOptions) ([]string, error) {
	if len(opts.Files) > 0 {
		paths := make([]string, 0, len(opts.Files))
		for _, f := range opts.Files {
			abs, err := filepath.Abs(f)
			if err != nil {
				return nil, fmt.Errorf("bad file path %s: %w", f, err)
			}
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				paths = append(paths, abs)
			}
		}
		return paths, nil
	}

	paths, err := filepath.Glob(filepath.Join(opts.Dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", opts.Dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// readEvent loads one record. Bare-event files (no "reason" wrapper) from
// older tooling are accepted too.
func readEvent(path string) (*model.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err == nil && rec.Event != nil {
		return rec.Event, nil
	}

	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("not a failure record: %w", err)
	}
	return &ev, nil
}

// Replay re-attempts delivery for the selected records. Successful records
// are optionally relocated to opts.MoveTo; failed ones stay where they are.
func Replay(ctx context.Context, opts ReplayOptions, tf Transformer, dl Deliverer, log logger.Logger) (ReplayResult, error) {
	var result ReplayResult

	files, err := collectFiles(opts)
	if err != nil {
		return result, err
	}
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}
	if len(files) == 0 {
		log.Infof(ctx, "[Replay] no failure records found")
		return result, nil
	}

	if opts.MoveTo != "" {
		if err := os.MkdirAll(opts.MoveTo, 0o755); err != nil {
			return result, fmt.Errorf("failed to create %s: %w", opts.MoveTo, err)
		}
	}

	log.Infof(ctx, "[Replay] processing %d record(s)", len(files))

	for _, path := range files {
		name := filepath.Base(path)
		result.Processed++

		ev, err := readEvent(path)
		if err != nil {
			result.Failed++
			log.Errorf(ctx, "[Replay] skip %s: %v", name, err)
			continue
		}

		payload, err := tf.Transform(ctx, ev)
		if err != nil {
			result.Failed++
			log.Errorf(ctx, "[Replay] %s: transform failed: %v", name, err)
			continue
		}

		out := dl.Deliver(ctx, payload, ev.Order.OrderID)
		if !out.Delivered() {
			result.Failed++
			log.Errorf(ctx, "[Replay] %s: %s (%s)", name, out.Status, out.Reason())
			continue
		}

		result.Succeeded++
		log.Infof(ctx, "[Replay] %s delivered (status=%d)", name, out.HTTPStatus)

		if opts.MoveTo != "" {
			target := filepath.Join(opts.MoveTo, name)
			if err := os.Rename(path, target); err != nil {
				log.Warnf(ctx, "[Replay] could not move %s to %s: %v", name, opts.MoveTo, err)
			}
		}
	}

	log.Infof(ctx, "[Replay] done: %d ok, %d failed", result.Succeeded, result.Failed)
	return result, nil
}
