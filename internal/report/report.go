// Package report records participant reports. Reports never change pairing
// state; they are written to the log and, when configured, persisted to
// PostgreSQL and published on NATS for downstream review.
package report

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Entry is one report as captured at the moment it was filed.
type Entry struct {
	ReporterID   string    `json:"reporter_id"`
	ReporterName string    `json:"reporter_name"`
	ReportedID   string    `json:"reported_id,omitempty"` // empty when the reporter had no partner
	ReportedName string    `json:"reported_name,omitempty"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sink records a report.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// LogSink writes reports to the log.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a Sink that logs each report at warn level.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) Record(_ context.Context, e Entry) error {
	s.log.Warn("report",
		zap.String("reporter", e.ReporterName),
		zap.String("reporter_id", e.ReporterID),
		zap.String("reported", e.ReportedName),
		zap.String("reported_id", e.ReportedID),
		zap.String("reason", e.Reason),
	)
	return nil
}

// Fanout records into every sink, continuing past failures.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, e Entry) error {
	var err error
	for _, s := range f {
		err = multierr.Append(err, s.Record(ctx, e))
	}
	return err
}
