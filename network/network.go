// Package network defines the abstract gossip interfaces the proof-of-time
// subsystem consumes. The actual peer-to-peer transport, discovery, and
// message signing live in an external collaborator; engines here only see
// channels, conduits, and decoded messages.
package network

import (
	"encoding/hex"
)

// Channel specifies a virtual and isolated communication medium. Nodes
// subscribed to the same channel can disseminate messages to each other.
type Channel string

// ChannelProofs is the gossip channel proof announcements travel on.
const ChannelProofs = Channel("pot-proofs")

// PeerID identifies a remote peer as established by the networking layer.
type PeerID [32]byte

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Conduit is the sending interface of a channel. Publish is fire-and-forget
// gossip dissemination: no delivery guarantees, no responses.
type Conduit interface {
	// Publish sends the event to all peers subscribed to the conduit's
	// channel. Errors indicate local failure to hand off the message, never
	// remote rejection.
	Publish(event interface{}) error

	// Close unsubscribes from the channel. The conduit must not be used
	// afterwards.
	Close() error
}

// MessageProcessor handles inbound messages on a channel. Process must be
// non-blocking: implementations queue the message and return, so the
// networking layer is never stalled by engine work.
type MessageProcessor interface {
	Process(channel Channel, originID PeerID, event interface{}) error
}

// Network is the registration surface of the networking layer. Engines
// register for a channel and receive a Conduit for sending on it.
type Network interface {
	Register(channel Channel, processor MessageProcessor) (Conduit, error)
}
