package network

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/beenet-project/storagenode/pkg/blockstore"
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/constants"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/identity"
	"github.com/beenet-project/storagenode/pkg/logx"
	"github.com/beenet-project/storagenode/pkg/security/noiseik"
	"github.com/beenet-project/storagenode/pkg/transport"
	"github.com/beenet-project/storagenode/pkg/wire"
)

// provideTTL is how long a PROVIDE announcement is believed before it must
// be renewed.
const provideTTL = 1 * time.Hour

// Server answers FETCH_CHUNK and PROVIDE requests from peers on behalf of a
// local block store, the network-facing half of the block-exchange
// protocol that Client drives from the other side.
type Server struct {
	store    blockstore.Store
	provide  *ProvideStore
	identity *identity.Identity
	log      *logx.Logger
}

// NewServer builds a Server backed by store, recording PROVIDE
// announcements into provide.
func NewServer(store blockstore.Store, provide *ProvideStore, id *identity.Identity, log *logx.Logger) *Server {
	if log == nil {
		log = logx.New(logx.Info)
	}
	return &Server{store: store, provide: provide, identity: id, log: log}
}

// Serve accepts connections from l until ctx is cancelled, handling each on
// its own goroutine.
func (s *Server) Serve(ctx context.Context, l transport.Listener) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errs.Wrap(errs.NetworkFailure, "network: accept connection", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn transport.Conn) {
	defer conn.Close()

	session, err := serverHandshake(conn, s.identity)
	if err != nil {
		s.log.Debugf("network: handshake: %v", err)
		return
	}

	req, err := readEncryptedFrame(conn, session)
	if err != nil {
		s.log.Debugf("network: read request frame: %v", err)
		return
	}

	switch req.Kind {
	case constants.KindFetchChunk:
		s.handleFetchChunk(ctx, conn, session, req)
	case constants.KindProvide:
		s.handleProvide(req)
	case constants.KindPing:
		s.handlePing(conn, session, req)
	default:
		s.log.Debugf("network: unsupported request kind %d from %s", req.Kind, req.From)
	}
}

func (s *Server) handlePing(conn transport.Conn, session *noiseik.Handshake, req *wire.BaseFrame) {
	var body wire.PingBody
	if err := decodeBody(req.Body, &body); err != nil {
		s.log.Debugf("network: malformed ping body: %v", err)
		return
	}

	resp := wire.NewBaseFrame(constants.KindPong, s.identity.BID(), req.Seq, &wire.PongBody{Token: body.Token})
	if err := resp.Sign(s.identity.SigningPrivateKey); err != nil {
		s.log.Debugf("network: sign pong response: %v", err)
		return
	}
	if err := writeEncryptedFrame(conn, session, resp); err != nil {
		s.log.Debugf("network: write pong response: %v", err)
	}
}

func (s *Server) handleFetchChunk(ctx context.Context, conn transport.Conn, session *noiseik.Handshake, req *wire.BaseFrame) {
	var body wire.FetchChunkBody
	if err := decodeBody(req.Body, &body); err != nil {
		s.log.Debugf("network: malformed fetch_chunk body: %v", err)
		return
	}

	c, err := cid.Parse(body.CID)
	if err != nil {
		s.log.Debugf("network: fetch_chunk carried an invalid cid: %v", err)
		return
	}

	b, err := s.store.Get(ctx, c)
	if err != nil {
		s.log.Debugf("network: fetch_chunk for %s: %v", body.CID, err)
		return
	}

	resp := wire.NewBaseFrame(constants.KindChunkData, s.identity.BID(), req.Seq, &wire.ChunkDataBody{
		CID:  body.CID,
		Data: b.Bytes,
	})
	if err := resp.Sign(s.identity.SigningPrivateKey); err != nil {
		s.log.Debugf("network: sign chunk_data response: %v", err)
		return
	}
	if err := writeEncryptedFrame(conn, session, resp); err != nil {
		s.log.Debugf("network: write chunk_data response: %v", err)
	}
}

// ProvideBody is the payload of a PROVIDE announcement: a peer asserting it
// holds the named CID, can be dialed at Addr, and handshakes with NoiseKey.
type ProvideBody struct {
	CID      string `cbor:"cid"`
	Addr     string `cbor:"addr"`
	NoiseKey []byte `cbor:"noise_key"`
}

func (s *Server) handleProvide(req *wire.BaseFrame) {
	var body ProvideBody
	if err := decodeBody(req.Body, &body); err != nil {
		s.log.Debugf("network: malformed provide body: %v", err)
		return
	}
	s.provide.RecordProvider(body.CID, PeerAddr{BID: req.From, Addr: body.Addr, NoiseKey: body.NoiseKey}, provideTTL)
}

// Announce sends a PROVIDE frame for c to peer, advertising selfAddr and
// selfNoiseKey as where and how it can be fetched.
func Announce(ctx context.Context, t transport.Transport, tlsConfig *tls.Config, id *identity.Identity, peer PeerAddr, c cid.CID, selfAddr string, selfNoiseKey []byte, seq uint64) error {
	conn, err := t.Dial(ctx, peer.Addr, tlsConfig)
	if err != nil {
		return errs.Wrap(errs.NetworkFailure, "network: dial peer to announce", err)
	}
	defer conn.Close()

	session, err := clientHandshake(conn, id, peer.NoiseKey)
	if err != nil {
		return err
	}

	frame := wire.NewBaseFrame(constants.KindProvide, id.BID(), seq, &ProvideBody{
		CID:      c.String(),
		Addr:     selfAddr,
		NoiseKey: selfNoiseKey,
	})
	if err := frame.Sign(id.SigningPrivateKey); err != nil {
		return errs.Wrap(errs.Internal, "network: sign provide frame", err)
	}
	return writeEncryptedFrame(conn, session, frame)
}
