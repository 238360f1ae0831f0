package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Session counters
// ──────────────────────────────────────────────────────────────────────────────

// Counters is the per-session traffic accounting. The transport writes the
// byte counters from its I/O goroutines, so every field is atomic.
type Counters struct {
	MsgsSent  atomic.Int64 // messages handed to the transport
	MsgsRecv  atomic.Int64 // messages drained at the pump
	BytesSent atomic.Int64 // bytes written to peer links
	BytesRecv atomic.Int64 // bytes read from peer links
	Relayed   atomic.Int64 // messages the host forwarded on behalf of a peer
	Dropped   atomic.Int64 // inbound messages discarded (unknown peer, bad payload, ...)
}

// Wire byte counters are maintained by the transport, message counters by
// the session.

func (c *Counters) AddBytesSent(n int) { c.BytesSent.Add(int64(n)) }
func (c *Counters) AddBytesRecv(n int) { c.BytesRecv.Add(int64(n)) }
func (c *Counters) AddMsgSent()        { c.MsgsSent.Add(1) }
func (c *Counters) AddMsgRecv()        { c.MsgsRecv.Add(1) }

func (c *Counters) AddRelayed() { c.Relayed.Add(1) }
func (c *Counters) AddDropped() { c.Dropped.Add(1) }

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	MsgsSent, MsgsRecv   int64
	BytesSent, BytesRecv int64
	Relayed, Dropped     int64
}

// Snapshot loads every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		MsgsSent:  c.MsgsSent.Load(),
		MsgsRecv:  c.MsgsRecv.Load(),
		BytesSent: c.BytesSent.Load(),
		BytesRecv: c.BytesRecv.Load(),
		Relayed:   c.Relayed.Load(),
		Dropped:   c.Dropped.Load(),
	}
}

// String renders the snapshot for the netinfo command.
func (s Snapshot) String() string {
	return fmt.Sprintf("sent %d msgs (%s) | recv %d msgs (%s) | relayed %d | dropped %d",
		s.MsgsSent, FormatBytes(float64(s.BytesSent)),
		s.MsgsRecv, FormatBytes(float64(s.BytesRecv)),
		s.Relayed, s.Dropped)
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, c *Counters, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := c.Snapshot()
				secs := interval.Seconds()

				outS := float64(cur.BytesSent-prev.BytesSent) / secs
				inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
				relayed := cur.Relayed - prev.Relayed
				dropped := cur.Dropped - prev.Dropped

				if inS > 10 || outS > 10 || dropped > 0 {
					current().Info(formatStats(inS, outS, relayed, dropped))
				}

				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, relayed, dropped int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Relayed: %4d | Dropped: %3d",
		FormatBytes(inS),
		FormatBytes(outS),
		relayed,
		dropped,
	)
}
