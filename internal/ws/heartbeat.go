package ws

import (
	"time"

	"go.uber.org/zap"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 25s)
	Timeout  time.Duration // max silence before a connection is dropped (default: 60s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 25 * time.Second,
		Timeout:  60 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections and closes those that have gone
// silent for longer than Timeout. It returns immediately; the goroutine exits
// when the server shuts down.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case now := <-ticker.C:
				checkConnections(server, config, now)
			}
		}
	}()
}

// checkConnections removes connections with no frame read within Timeout
// and pings the rest. Browsers answer the ping frame (opcode 0x9) with a
// pong automatically, which counts as activity.
func checkConnections(server *Server, config HeartbeatConfig, now time.Time) {
	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastSeen())
		if config.Timeout > 0 && idle > config.Timeout {
			server.log.Info("heartbeat timeout",
				zap.String("conn", c.ID),
				zap.Duration("idle", idle.Round(time.Second)),
			)
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			server.log.Debug("heartbeat ping failed", zap.String("conn", c.ID), zap.Error(err))
			server.RemoveConnection(c)
		}
	}
}
