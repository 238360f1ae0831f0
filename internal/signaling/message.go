package signaling

import "github.com/1ureka/knuckle/internal/protocol"

// messageType identifies the kind of signaling message.
type messageType string

const (
	msgTypeWelcome   messageType = "welcome"
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket during signaling.
// The host always speaks first with a welcome carrying the joiner's PeerId,
// followed by its SDP offer.
type message struct {
	Type      messageType     `json:"type"`
	Peer      protocol.PeerID `json:"peer,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate string          `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
