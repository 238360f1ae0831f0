package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/knuckle/internal/transport"
)

// receiver applies inbound signaling messages to a link. Candidates that
// arrive before the remote description are held until it is set.
type receiver struct {
	link   *transport.Link
	conn   *websocket.Conn
	sender *sender

	haveRemote bool
	pending    []webrtc.ICECandidateInit
}

// watch reads until the WebSocket fails or a message cannot be applied.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.setRemote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := r.setRemote(webrtc.SDPTypeAnswer, msg.SDP); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if !r.haveRemote {
				r.pending = append(r.pending, init)
				continue
			}
			if err := r.link.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}

func (r *receiver) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := r.link.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	r.haveRemote = true
	for _, c := range r.pending {
		if err := r.link.AddICECandidate(c); err != nil {
			return err
		}
	}
	r.pending = nil
	return nil
}
