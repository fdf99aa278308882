package network

import (
	"io"

	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/identity"
	"github.com/beenet-project/storagenode/pkg/security/noiseik"
)

// handshakeSwarmID tags every Noise IK handshake this package performs.
// The storage node has no concept of multiple swarms (spec §8.2's SwarmID
// exists to let one peer join several independent meshes); it runs a single
// implicit swarm, so the tag is a fixed constant rather than a value a
// caller configures.
const handshakeSwarmID = "storagenode/block-exchange"

// clientHandshake runs the initiator side of a Noise IK handshake over conn:
// write message one, read the responder's message two. The returned
// Handshake is ready to Encrypt/Decrypt the session's frames.
func clientHandshake(conn io.ReadWriter, id *identity.Identity, peerNoiseKey []byte) (*noiseik.Handshake, error) {
	if len(peerNoiseKey) == 0 {
		return nil, errs.New(errs.InvalidArgument, "network: peer has no announced noise key, cannot establish an encrypted session")
	}

	h, err := noiseik.NewClientHandshake(id, handshakeSwarmID, peerNoiseKey)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "network: build client handshake", err)
	}

	msg1, err := h.PerformHandshake(nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "network: write handshake message one", err)
	}
	if err := writeRawFrame(conn, msg1); err != nil {
		return nil, err
	}

	msg2, err := readRawFrame(conn)
	if err != nil {
		return nil, err
	}
	if _, err := h.ReadHandshakeMessage(msg2); err != nil {
		return nil, errs.Wrap(errs.NetworkFailure, "network: read handshake message two", err)
	}
	if !h.IsComplete() {
		return nil, errs.New(errs.NetworkFailure, "network: handshake did not complete")
	}
	return h, nil
}

// serverHandshake runs the responder side of a Noise IK handshake over conn:
// read the initiator's message one, write message two.
func serverHandshake(conn io.ReadWriter, id *identity.Identity) (*noiseik.Handshake, error) {
	h, err := noiseik.NewServerHandshake(id, handshakeSwarmID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "network: build server handshake", err)
	}

	msg1, err := readRawFrame(conn)
	if err != nil {
		return nil, err
	}
	if _, err := h.ReadHandshakeMessage(msg1); err != nil {
		return nil, errs.Wrap(errs.NetworkFailure, "network: read handshake message one", err)
	}

	msg2, err := h.PerformHandshake(nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "network: write handshake message two", err)
	}
	if err := writeRawFrame(conn, msg2); err != nil {
		return nil, err
	}
	if !h.IsComplete() {
		return nil, errs.New(errs.NetworkFailure, "network: handshake did not complete")
	}
	return h, nil
}
