package network

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"time"

	"github.com/beenet-project/storagenode/pkg/block"
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/constants"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/identity"
	"github.com/beenet-project/storagenode/pkg/transport"
	"github.com/beenet-project/storagenode/pkg/wire"
)

// Client implements node.BlockFetcher by asking a Provider which peers
// claim to hold a CID, then dialing each in turn over the configured
// transport until one answers with CHUNK_DATA.
type Client struct {
	transport transport.Transport
	tlsConfig *tls.Config
	identity  *identity.Identity
	provider  Provider
	seq       uint64
}

// NewClient builds a Client that dials peers with t and authenticates
// itself as id.
func NewClient(t transport.Transport, tlsConfig *tls.Config, id *identity.Identity, provider Provider) *Client {
	return &Client{transport: t, tlsConfig: tlsConfig, identity: id, provider: provider}
}

// FetchBlock implements node.BlockFetcher.
func (c *Client) FetchBlock(ctx context.Context, target cid.CID) (block.Block, error) {
	peers := c.provider.ProvidersFor(target.String())
	if len(peers) == 0 {
		return block.Block{}, errs.New(errs.NotFound, "network: no known providers for cid")
	}

	var lastErr error
	for _, peer := range peers {
		b, err := c.fetchFrom(ctx, peer, target)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return block.Block{}, errs.Wrap(errs.NetworkFailure, "network: all providers failed", lastErr)
}

func (c *Client) fetchFrom(ctx context.Context, peer PeerAddr, target cid.CID) (block.Block, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	conn, err := c.transport.Dial(fetchCtx, peer.Addr, c.tlsConfig)
	if err != nil {
		return block.Block{}, errs.Wrap(errs.NetworkFailure, "network: dial provider", err)
	}
	defer conn.Close()

	session, err := clientHandshake(conn, c.identity, peer.NoiseKey)
	if err != nil {
		return block.Block{}, err
	}

	c.seq++
	req := wire.NewBaseFrame(constants.KindFetchChunk, c.identity.BID(), c.seq, &wire.FetchChunkBody{
		CID: target.String(),
	})
	if err := req.Sign(c.identity.SigningPrivateKey); err != nil {
		return block.Block{}, errs.Wrap(errs.Internal, "network: sign fetch request", err)
	}
	if err := writeEncryptedFrame(conn, session, req); err != nil {
		return block.Block{}, err
	}

	resp, err := readEncryptedFrame(conn, session)
	if err != nil {
		return block.Block{}, err
	}
	if resp.Kind != constants.KindChunkData {
		return block.Block{}, errs.New(errs.NetworkFailure, "network: unexpected response frame kind")
	}

	var body wire.ChunkDataBody
	if err := decodeBody(resp.Body, &body); err != nil {
		return block.Block{}, err
	}
	if body.CID != target.String() {
		return block.Block{}, errs.New(errs.NetworkFailure, "network: response cid mismatch")
	}

	return block.NewVerified(target, body.Data)
}

// Ping measures round-trip latency to peer, verifying it echoes back the
// same token before reporting success.
func (c *Client) Ping(ctx context.Context, peer PeerAddr) (time.Duration, error) {
	conn, err := c.transport.Dial(ctx, peer.Addr, c.tlsConfig)
	if err != nil {
		return 0, errs.Wrap(errs.NetworkFailure, "network: dial peer to ping", err)
	}
	defer conn.Close()

	session, err := clientHandshake(conn, c.identity, peer.NoiseKey)
	if err != nil {
		return 0, err
	}

	token := make([]byte, 8)
	if _, err := rand.Read(token); err != nil {
		return 0, errs.Wrap(errs.Internal, "network: generate ping token", err)
	}

	c.seq++
	req := wire.NewBaseFrame(constants.KindPing, c.identity.BID(), c.seq, &wire.PingBody{Token: token})
	if err := req.Sign(c.identity.SigningPrivateKey); err != nil {
		return 0, errs.Wrap(errs.Internal, "network: sign ping request", err)
	}

	start := time.Now()
	if err := writeEncryptedFrame(conn, session, req); err != nil {
		return 0, err
	}
	resp, err := readEncryptedFrame(conn, session)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)

	if resp.Kind != constants.KindPong {
		return 0, errs.New(errs.NetworkFailure, "network: unexpected response to ping")
	}
	var body wire.PongBody
	if err := decodeBody(resp.Body, &body); err != nil {
		return 0, err
	}
	if !bytes.Equal(body.Token, token) {
		return 0, errs.New(errs.NetworkFailure, "network: pong token mismatch")
	}
	return elapsed, nil
}
