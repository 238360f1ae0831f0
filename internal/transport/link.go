package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"

	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/util"
)

// flushTimeout bounds how long Close(true) waits for reliable sends to drain.
const flushTimeout = 2 * time.Second

// Link wraps a single PeerConnection with its two pre-negotiated
// DataChannels, providing a high-level API for signaling exchange, payload
// sending with backpressure, and payload receiving.
//
// Its lifecycle is governed by the DataChannel states and the context passed
// at construction time: the link is ready once both channels are open and
// done as soon as either closes.
type Link struct {
	pc         *webrtc.PeerConnection
	reliable   *webrtc.DataChannel
	unreliable *webrtc.DataChannel

	rs *sender
	us *sender

	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	counters  *util.Counters
}

// NewLink creates a Link backed by a new PeerConnection and both
// DataChannels. The caller performs signaling via the exposed methods
// (CreateOffer / CreateAnswer / …) and then uses Send / OnPayload.
func NewLink(ctx context.Context, stun []string, counters *util.Counters) (*Link, error) {
	pc, err := newPeerConnection(stun)
	if err != nil {
		return nil, err
	}

	rdc, err := newReliableChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	udc, err := newUnreliableChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	lCtx, lCancel := context.WithCancel(ctx)

	l := &Link{
		pc:         pc,
		reliable:   rdc,
		unreliable: udc,
		openSignal: make(chan struct{}),
		ctx:        lCtx,
		cancel:     lCancel,
		counters:   counters,
	}

	// Open gate: both channels must be open.
	var openMu sync.Mutex
	opened := 0
	onOpen := func() {
		openMu.Lock()
		defer openMu.Unlock()
		opened++
		if opened == 2 {
			close(l.openSignal)
		}
	}
	rdc.OnOpen(onOpen)
	udc.OnOpen(onOpen)

	// Either channel closing ends the link.
	rdc.OnClose(func() {
		util.LogDebug("reliable DataChannel closed")
		lCancel()
	})
	udc.OnClose(func() {
		util.LogDebug("unreliable DataChannel closed")
		lCancel()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			lCancel()
		}
	})

	// A failed write on either stream ends the link.
	l.rs = newSender(lCtx, lCancel, rdc, l.openSignal, false, counters)
	l.us = newSender(lCtx, lCancel, udc, l.openSignal, true, counters)

	return l, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when both DataChannels are open.
func (l *Link) Ready() <-chan struct{} {
	return l.openSignal
}

// Done returns a channel that is closed when the Link is shut down.
func (l *Link) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Close shuts down the DataChannels and PeerConnection. With flush set, it
// first waits (bounded) for queued reliable payloads to leave.
func (l *Link) Close(flush bool) error {
	var err error
	l.closeOnce.Do(func() {
		if flush {
			if !l.rs.flush(l.ctx, flushTimeout) {
				util.LogWarning("reliable stream not drained before close")
			}
		}
		l.cancel()
		err = multierr.Combine(l.reliable.Close(), l.unreliable.Close(), l.pc.Close())
	})
	return err
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (l *Link) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (l *Link) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (l *Link) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	l.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (l *Link) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send enqueues payload on the stream selected by mode. Unreliable payloads
// are dropped when the stream is congested.
func (l *Link) Send(mode protocol.Delivery, payload []byte) error {
	select {
	case <-l.ctx.Done():
		return ErrClosed
	default:
	}

	if mode == protocol.Unreliable {
		l.us.send(l.ctx, payload)
		return nil
	}
	if !l.rs.send(l.ctx, payload) {
		return ErrClosed
	}
	return nil
}

// OnPayload registers a callback invoked for every inbound message on either
// stream. It runs on pion's goroutines.
func (l *Link) OnPayload(fn func(mode protocol.Delivery, data []byte)) {
	l.reliable.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.counters != nil {
			l.counters.AddBytesRecv(len(msg.Data))
		}
		fn(protocol.Reliable, msg.Data)
	})
	l.unreliable.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.counters != nil {
			l.counters.AddBytesRecv(len(msg.Data))
		}
		fn(protocol.Unreliable, msg.Data)
	})
}
