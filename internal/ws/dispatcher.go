package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dudedude/pairchat/internal/metrics"
	"github.com/dudedude/pairchat/internal/protocol"
	"github.com/dudedude/pairchat/internal/ratelimit"
	"github.com/dudedude/pairchat/internal/report"
)

// Matchmaker is the pairing engine as seen by the dispatcher.
type Matchmaker interface {
	Connect(connID, addr string) string
	Disconnect(connID string)
	SearchRequest(connID, name string)
	Skip(connID string)
	Stop(connID string)
	SearchAgain(connID string)
	RelayNegotiation(connID string, data json.RawMessage) bool
	RestartNegotiation(connID string) bool
	RelayChat(connID, text string) bool
	Report(connID, reason string) (report.Entry, bool)
}

const (
	limitTimeout  = time.Second
	reportTimeout = 5 * time.Second
)

// Dispatcher is the server's Handler. It parses each client message into its
// command struct and applies it to the Matchmaker. Pings, rate limiting and
// error replies are answered here without touching the engine.
type Dispatcher struct {
	engine  Matchmaker
	reports report.Sink
	limiter ratelimit.Checker
	log     *zap.Logger
}

// NewDispatcher creates a Dispatcher. A nil limiter allows everything and a
// nil sink discards reports.
func NewDispatcher(engine Matchmaker, reports report.Sink, limiter ratelimit.Checker, logger *zap.Logger) *Dispatcher {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if reports == nil {
		reports = report.Fanout{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		engine:  engine,
		reports: reports,
		limiter: limiter,
		log:     logger.Named("dispatch"),
	}
}

// Open implements Handler.
func (d *Dispatcher) Open(c *Connection) {
	d.engine.Connect(c.ID, c.RemoteAddr)
}

// Close implements Handler.
func (d *Dispatcher) Close(c *Connection) {
	d.engine.Disconnect(c.ID)
}

// Message implements Handler.
func (d *Dispatcher) Message(c *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("parse error", zap.String("conn", c.ID), zap.Error(err))
		if errors.Is(err, protocol.ErrUnknownType) {
			d.reply(c, protocol.TypeError, protocol.ErrorMsg{Code: "unsupported_type", Message: "unsupported message type"})
		} else {
			d.reply(c, protocol.TypeError, protocol.ErrorMsg{Code: "parse_error", Message: "invalid message format"})
		}
		return
	}

	start := time.Now()
	defer func() {
		metrics.CommandLatency.WithLabelValues(msgType).Observe(time.Since(start).Seconds())
	}()

	switch m := msg.(type) {
	case protocol.PingMsg:
		d.reply(c, protocol.TypePong, protocol.PongMsg{})
	case protocol.StartSearchMsg:
		if d.allow(c, ratelimit.RuleSearch) {
			d.engine.SearchRequest(c.ID, m.Name)
		}
	case protocol.NextMsg:
		if d.allow(c, ratelimit.RuleSearch) {
			d.engine.Skip(c.ID)
		}
	case protocol.SearchAgainMsg:
		if d.allow(c, ratelimit.RuleSearch) {
			d.engine.SearchAgain(c.ID)
		}
	case protocol.StopMsg:
		d.engine.Stop(c.ID)
	case protocol.SignalMsg:
		d.engine.RelayNegotiation(c.ID, m.Data)
	case protocol.IceRestartMsg:
		d.engine.RestartNegotiation(c.ID)
	case protocol.ChatMessageMsg:
		if d.allow(c, ratelimit.RuleChat) {
			d.engine.RelayChat(c.ID, m.Text)
		}
	case protocol.ReportMsg:
		d.report(c, m.Reason)
	}
}

// allow checks rule for the connection and tells the client when it is over
// the limit. Limiter errors fail open.
func (d *Dispatcher) allow(c *Connection, rule ratelimit.Rule) bool {
	ctx, cancel := context.WithTimeout(context.Background(), limitTimeout)
	defer cancel()

	decision, err := d.limiter.Allow(ctx, c.ID, rule)
	if err != nil {
		d.log.Warn("rate limit check failed", zap.String("conn", c.ID), zap.Error(err))
	}
	if decision.Allowed {
		return true
	}
	metrics.DroppedTotal.WithLabelValues("rate_limited").Inc()
	d.reply(c, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: ratelimit.RetrySeconds(decision.RetryAfter),
	})
	return false
}

func (d *Dispatcher) report(c *Connection, reason string) {
	entry, ok := d.engine.Report(c.ID, reason)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := d.reports.Record(ctx, entry); err != nil {
		d.log.Error("record report", zap.String("conn", c.ID), zap.Error(err))
	}
}

// reply sends a message straight to c, bypassing the engine.
func (d *Dispatcher) reply(c *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.log.Error("build reply", zap.String("type", msgType), zap.Error(err))
		return
	}
	if !c.Enqueue(data) {
		metrics.DroppedTotal.WithLabelValues("outbox_full").Inc()
	}
}
