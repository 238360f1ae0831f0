package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultStunServers are used when the caller supplies none. No TURN: peers
// are expected to reach each other directly once signaling is done.
var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Pre-negotiated DataChannel ids. Both sides create the channels
// independently, so neither relies on OnDataChannel.
const (
	reliableChannelID   uint16 = 0
	unreliableChannelID uint16 = 1
)

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers. nil selects DefaultStunServers; an empty list gathers host
// candidates only.
func newPeerConnection(stun []string) (*webrtc.PeerConnection, error) {
	if stun == nil {
		stun = DefaultStunServers
	}
	var config webrtc.Configuration
	if len(stun) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: stun},
		}
	}
	return webrtc.NewPeerConnection(config)
}

// newReliableChannel creates the ordered, fully retransmitted stream used for
// spawn/despawn/join/scene traffic.
func newReliableChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := reliableChannelID

	return pc.CreateDataChannel("reliable", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}

// newUnreliableChannel creates the unordered, never-retransmitted stream used
// for pose updates. A lost pose is superseded by the next one, so
// retransmission would only add latency.
func newUnreliableChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	retransmits := uint16(0)
	id := unreliableChannelID

	return pc.CreateDataChannel("unreliable", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
}
