package report

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultWatchThreshold is how many reports within DefaultWatchWindow
	// flag a participant.
	DefaultWatchThreshold = 3
	DefaultWatchWindow    = 24 * time.Hour
)

// RecentCounter counts stored reports against one participant.
type RecentCounter interface {
	CountRecent(ctx context.Context, reportedID string, window time.Duration) (int, error)
}

// Watch flags participants who keep getting reported. It must run after the
// sink that stores the entry, so the count includes it.
type Watch struct {
	counter   RecentCounter
	threshold int
	window    time.Duration
	log       *zap.Logger
}

// NewWatch returns a Sink that warns once counter reports threshold or more
// entries against the same participant within window.
func NewWatch(counter RecentCounter, threshold int, window time.Duration, logger *zap.Logger) *Watch {
	return &Watch{counter: counter, threshold: threshold, window: window, log: logger}
}

func (w *Watch) Record(ctx context.Context, e Entry) error {
	if e.ReportedID == "" {
		return nil
	}
	n, err := w.counter.CountRecent(ctx, e.ReportedID, w.window)
	if err != nil {
		return fmt.Errorf("report: watch: %w", err)
	}
	if n >= w.threshold {
		w.log.Warn("participant reported repeatedly",
			zap.String("reported_id", e.ReportedID),
			zap.String("reported", e.ReportedName),
			zap.Int("reports", n),
			zap.Duration("window", w.window),
		)
	}
	return nil
}
