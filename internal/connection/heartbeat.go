package connection

import (
	"context"
	"time"

	"github.com/tenvisio/pulse/internal/protocol"
)

// heartbeatLoop enqueues a Ping when nothing has been sent recently and
// closes the connection once inbound silence exceeds the configured
// timeout (spec §5 "Heartbeat task: timer ticks").
func (c *Connection) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.HeartbeatIntervalMs) * time.Millisecond
	timeout := time.Duration(c.cfg.HeartbeatTimeoutMs) * time.Millisecond

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()

			lastRecv := time.Unix(0, c.lastRecvNanos.Load())
			if now.Sub(lastRecv) > timeout {
				go c.Close("heartbeat timeout")
				return
			}

			lastSent := time.Unix(0, c.lastSentNanos.Load())
			if now.Sub(lastSent) >= interval {
				c.enqueue(protocol.NewPing(uint64(now.UnixMilli())))
			}
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}
