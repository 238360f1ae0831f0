package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/transport"
)

// writeDeadline bounds a single signaling write.
const writeDeadline = 5 * time.Second

// sender serializes outgoing signaling messages to the WebSocket.
type sender struct {
	link *transport.Link
	conn *websocket.Conn
	mu   sync.Mutex
}

// send writes a signaling message to the WebSocket, guarded by a mutex.
func (s *sender) send(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteJSON(msg)
}

// sendWelcome tells the joiner which PeerId it was allocated.
func (s *sender) sendWelcome(id protocol.PeerID) error {
	return s.send(message{Type: msgTypeWelcome, Peer: id})
}

// sendOffer creates an SDP offer, sets it as local description, and sends it.
func (s *sender) sendOffer() error {
	offer, err := s.link.CreateOffer()
	if err != nil {
		return err
	}

	if err := s.link.SetLocalDescription(offer); err != nil {
		return err
	}

	return s.send(message{Type: msgTypeOffer, SDP: offer.SDP})
}

// sendAnswer creates an SDP answer, sets it as local description, and sends it.
func (s *sender) sendAnswer() error {
	answer, err := s.link.CreateAnswer()
	if err != nil {
		return err
	}

	if err := s.link.SetLocalDescription(answer); err != nil {
		return err
	}

	return s.send(message{Type: msgTypeAnswer, SDP: answer.SDP})
}

// trickle forwards every gathered local candidate. Send errors are ignored:
// the WebSocket is closed as soon as the link opens, and late candidates are
// no longer needed then.
func (s *sender) trickle() {
	s.link.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		_ = s.send(message{Type: msgTypeCandidate, Candidate: string(data)})
	})
}
