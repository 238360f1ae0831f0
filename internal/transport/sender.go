package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/knuckle/internal/util"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 256        // outgoing payload channel capacity
)

// sender is a goroutine-based payload writer that serializes all writes to a
// single DataChannel, adding open-gate and backpressure control.
type sender struct {
	name        string
	dc          *webrtc.DataChannel
	inbox       chan []byte
	drainSignal chan struct{}
	lossy       bool         // drop instead of block when the inbox is full
	pending     atomic.Int64 // queued but not yet handed to the DataChannel
	counters    *util.Counters
	fail        context.CancelFunc
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled; on a
// write error it calls fail, which must cancel ctx.
func newSender(ctx context.Context, fail context.CancelFunc, dc *webrtc.DataChannel, openSignal <-chan struct{}, lossy bool, counters *util.Counters) *sender {
	s := &sender{
		name:        dc.Label(),
		dc:          dc,
		inbox:       make(chan []byte, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
		lossy:       lossy,
		counters:    counters,
		fail:        fail,
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, openSignal)

	return s
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the inbox with backpressure awareness.
func (s *sender) loop(ctx context.Context, openSignal <-chan struct{}) {
	// Phase 1: wait for DC to be open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send payloads with backpressure.
	for {
		select {
		case data := <-s.inbox:
			if s.dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			err := s.dc.Send(data)
			s.pending.Add(-1)
			if err != nil {
				util.LogError("failed to send on %s channel (%d bytes): %v", s.name, len(data), err)
				s.fail()
				return
			}

			if s.counters != nil {
				s.counters.AddBytesSent(len(data))
			}
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a payload for transmission. A reliable sender blocks while
// its buffer is full; a lossy one drops the payload instead. Returns false if
// the payload was not queued.
func (s *sender) send(ctx context.Context, data []byte) bool {
	if ctx.Err() != nil {
		return false
	}
	s.pending.Add(1)

	if s.lossy {
		select {
		case s.inbox <- data:
			return true
		case <-ctx.Done():
		default:
		}
		s.pending.Add(-1)
		return false
	}

	select {
	case s.inbox <- data:
		return true
	case <-ctx.Done():
		s.pending.Add(-1)
		return false
	}
}

// flush waits until every queued payload has been handed to the DataChannel
// and the channel's own buffer is empty, or until timeout. A stream whose
// context has ended never reports drained.
func (s *sender) flush(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for {
		if ctx.Err() != nil {
			return false
		}
		if s.pending.Load() == 0 && s.dc.BufferedAmount() == 0 {
			return true
		}
		select {
		case <-poll.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
