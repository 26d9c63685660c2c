package report

import (
	"context"
	"encoding/json"
	"fmt"
)

// SubjectReport is the NATS subject reports are published on.
const SubjectReport = "pairchat.report"

// MessagePublisher is the subset of the NATS client used here.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes each report as JSON on SubjectReport.
type Publisher struct {
	nats MessagePublisher
}

// NewPublisher returns a Sink publishing through p.
func NewPublisher(p MessagePublisher) *Publisher {
	return &Publisher{nats: p}
}

func (p *Publisher) Record(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if err := p.nats.Publish(SubjectReport, data); err != nil {
		return fmt.Errorf("report: publish: %w", err)
	}
	return nil
}
