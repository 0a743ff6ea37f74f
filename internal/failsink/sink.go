// Package failsink durably records aggregates that could not be delivered,
// and replays them.
package failsink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"amese/labsync/internal/model"
	"amese/labsync/pkg/logger"
)

// Record is the on-disk failure format: the reason plus the full input
// aggregate, enough to rebuild the payload byte for byte.
type Record struct {
	Reason string       `json:"reason"`
	Event  *model.Event `json:"event"`
}

// Sink writes failure records into one directory.
type Sink struct {
	dir    string
	logger logger.Logger
	now    func() time.Time
}

// NewSink creates the directory when missing.
func NewSink(dir string, log logger.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create failure dir %s: %w", dir, err)
	}
	return &Sink{
		dir:    dir,
		logger: log,
		now:    time.Now,
	}, nil
}

// fileName builds the time-ordered unique name:
// <UTC timestamp with microseconds>Z_<order id|unknown>.json
func (s *Sink) fileName(orderID int64) string {
	t := s.now().UTC()
	stamp := t.Format("20060102T150405") + fmt.Sprintf("%06d", t.Nanosecond()/1000) + "Z"
	return stamp + "_" + model.OrderKey(orderID) + ".json"
}

// Record writes one failure record and returns after the write is durable.
func (s *Sink) Record(ctx context.Context, ev *model.Event, reason string) (string, error) {
	path := filepath.Join(s.dir, s.fileName(ev.Order.OrderID))

	data, err := json.MarshalIndent(Record{Reason: reason, Event: ev}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal failure record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create failure record %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write failure record %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to sync failure record %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close failure record %s: %w", path, err)
	}

	s.logger.Warnf(ctx, "[FailSink] saved for manual replay: %s", path)
	return path, nil
}

// Dir returns the sink directory.
func (s *Sink) Dir() string {
	return s.dir
}
