package network

import (
	"encoding/binary"
	"io"

	"github.com/beenet-project/storagenode/pkg/codec/cborcanon"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/security/noiseik"
	"github.com/beenet-project/storagenode/pkg/wire"
)

// maxFrameSize bounds a single wire frame read from a peer connection,
// guarding against a malicious or buggy peer claiming an unbounded length
// prefix.
const maxFrameSize = 16 * 1024 * 1024

// writeRawFrame writes an opaque, length-prefixed byte blob: the framing
// the Noise IK handshake messages and the encrypted frame bodies that
// follow it ride on, since neither is canonical CBOR the way wire.BaseFrame
// is.
func writeRawFrame(w io.Writer, data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return errs.Wrap(errs.NetworkFailure, "network: write raw frame header", err)
	}
	if _, err := w.Write(data); err != nil {
		return errs.Wrap(errs.NetworkFailure, "network: write raw frame body", err)
	}
	return nil
}

// readRawFrame reads one length-prefixed opaque byte blob from r.
func readRawFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errs.Wrap(errs.NetworkFailure, "network: read raw frame header", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, errs.New(errs.NetworkFailure, "network: raw frame exceeds maximum size")
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errs.Wrap(errs.NetworkFailure, "network: read raw frame body", err)
	}
	return body, nil
}

// writeEncryptedFrame marshals f to canonical CBOR, seals it under the
// session's Noise IK send cipher, and writes the ciphertext length-prefixed.
func writeEncryptedFrame(w io.Writer, session *noiseik.Handshake, f *wire.BaseFrame) error {
	data, err := f.Marshal()
	if err != nil {
		return errs.Wrap(errs.Internal, "network: marshal frame", err)
	}
	ciphertext, err := session.Encrypt(data)
	if err != nil {
		return errs.Wrap(errs.Internal, "network: encrypt frame", err)
	}
	return writeRawFrame(w, ciphertext)
}

// readEncryptedFrame reads one length-prefixed ciphertext, opens it under
// the session's Noise IK receive cipher, and decodes the resulting CBOR
// frame.
func readEncryptedFrame(r io.Reader, session *noiseik.Handshake) (*wire.BaseFrame, error) {
	ciphertext, err := readRawFrame(r)
	if err != nil {
		return nil, err
	}
	data, err := session.Decrypt(ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.NetworkFailure, "network: decrypt frame", err)
	}
	frame := &wire.BaseFrame{}
	if err := frame.Unmarshal(data); err != nil {
		return nil, errs.Wrap(errs.NetworkFailure, "network: decode frame", err)
	}
	return frame, nil
}

// decodeBody re-encodes a frame's generically-decoded Body (a map, since
// BaseFrame.Body is declared interface{}) and decodes it into out, whose
// concrete shape is known from the frame's Kind.
func decodeBody(body interface{}, out interface{}) error {
	raw, err := cborcanon.Marshal(body)
	if err != nil {
		return errs.Wrap(errs.NetworkFailure, "network: re-encode frame body", err)
	}
	if err := cborcanon.Unmarshal(raw, out); err != nil {
		return errs.Wrap(errs.NetworkFailure, "network: decode frame body", err)
	}
	return nil
}
