// Package network adapts the storage node engine to the wire protocol,
// letting one node fetch blocks it does not hold locally from peers that
// do. It reuses the transport (QUIC/TCP) and signed frame packages from
// the surrounding codebase rather than inventing a new wire format:
// FETCH_CHUNK/CHUNK_DATA/PROVIDE/PING/PONG are wire.BaseFrame kinds carried
// over the same transport.Conn abstraction, and every connection opens with
// a Noise IK handshake (pkg/security/noiseik) that authenticates both
// peers' static keys and derives the cipher that seals every frame after
// it, per spec §8.2's session-binding requirement.
package network

import (
	"time"
)

// PeerAddr names a reachable peer: its Bee ID, a dialable network address
// understood by the configured transport.Transport, and the X25519 static
// public key it handshakes with. This node has no DHT or gossip discovery
// (see DESIGN.md), so NoiseKey arrives the same way BID and Addr do: an
// operator or out-of-band mechanism supplies it via peer.announce/PROVIDE.
// A peer with no announced NoiseKey cannot be dialed, since Noise IK
// requires the initiator to know the responder's static key up front.
type PeerAddr struct {
	BID      string
	Addr     string
	NoiseKey []byte
}

// Provider resolves a CID to the peers known to hold it. Implementations
// back this with the node's local discovery providers store (spec §6's
// "discovery providers store"); ProvideStore below is the in-process one.
type Provider interface {
	ProvidersFor(c string) []PeerAddr
	RecordProvider(c string, p PeerAddr, ttl time.Duration)
}

// FetchTimeout bounds a single peer round trip for one FETCH_CHUNK request
// before the client moves on to the next candidate provider.
const FetchTimeout = 10 * time.Second
