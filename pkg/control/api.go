// Package control implements the storage node's local control API: JSON
// requests over a listener, one connection per client, mirroring the REST
// surface of spec §6 ("the endpoints wrap the engine verbatim") as a
// method-name RPC rather than real HTTP, in the same request/response
// shape the teacher's control API used for its agent lifecycle calls.
package control

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/identity"
	"github.com/beenet-project/storagenode/pkg/logx"
	"github.com/beenet-project/storagenode/pkg/manifest"
	"github.com/beenet-project/storagenode/pkg/network"
	"github.com/beenet-project/storagenode/pkg/node"
	"github.com/beenet-project/storagenode/pkg/pipeline"
)

// defaultProvideTTL bounds how long a manually announced peer is believed
// to still hold a CID before data.network.fetch should stop trying it.
const defaultProvideTTL = time.Hour

// Request represents a control API request.
type Request struct {
	Method string                 `json:"method"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Server implements the control API server, wrapping the node engine and
// its upload/download session managers behind the spec §6 method surface:
// data.put/data.list/data.get/data.delete/data.network.fetch/
// data.network.manifest/data.exists/space.get/spr.get/peerid.get/
// debug.info/debug.loglevel.
type Server struct {
	mu        sync.RWMutex
	engine    *node.Engine
	worker    *pipeline.Worker
	handlers  *pipeline.Handlers
	identity  *identity.Identity
	log       *logx.Logger
	errStats  *errs.Stats
	providers network.Provider
}

// SetProviders wires the server's manual peer-discovery store, enabling
// peer.announce. A Server with no providers configured rejects peer.announce
// requests rather than silently discarding them.
func (s *Server) SetProviders(p network.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = p
}

// NewServer creates a new control API server bound to engine and id.
func NewServer(engine *node.Engine, id *identity.Identity, log *logx.Logger) *Server {
	if log == nil {
		log = logx.New(logx.Info)
	}
	return &Server{
		engine:   engine,
		worker:   pipeline.New(pipeline.Options{}),
		handlers: pipeline.NewHandlers(engine),
		identity: id,
		log:      log,
		errStats: errs.NewStats(),
	}
}

// Close destroys the server's request-pipeline worker, waiting for any
// in-flight request to finish. Safe to call once after Serve returns.
func (s *Server) Close() {
	s.worker.Destroy()
}

// submit dispatches a request envelope through the server's pipeline
// Worker (the spec §4.9 FFI-worker model: submit, wait for the worker's
// acknowledgement, then block the caller goroutine until the callback fires)
// and returns the terminal callback's message, or an error built from a
// non-OK completion code. Progress callbacks are ignored; none of the
// control API's one-shot methods stream progress back to the caller.
func (s *Server) submit(build func(cb pipeline.Callback, userData interface{}) *pipeline.Request) (string, error) {
	done := make(chan struct{})
	var code pipeline.Code
	var msg string
	cb := func(c pipeline.Code, m string, _ interface{}) {
		if c == pipeline.CodeProgress {
			return
		}
		code, msg = c, m
		close(done)
	}

	if err := s.worker.Submit(build(cb, nil)); err != nil {
		return "", err
	}
	<-done
	if code != pipeline.CodeOK {
		return "", errors.New(msg)
	}
	return msg, nil
}

// Serve starts the control API server on the given listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					continue
				}
			}
			go s.handleConnection(ctx, conn)
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var request Request
			if err := decoder.Decode(&request); err != nil {
				return
			}

			response := s.handleRequest(ctx, request)

			if err := encoder.Encode(response); err != nil {
				return
			}
		}
	}
}

// errResponse records err against the server's error statistics (exposed via
// debug.info) and converts it into a Response.
func (s *Server) errResponse(id string, err error) Response {
	s.mu.Lock()
	s.errStats.Record(err)
	s.mu.Unlock()
	return Response{ID: id, Error: err.Error()}
}

func (s *Server) handleRequest(ctx context.Context, request Request) Response {
	switch request.Method {
	case "data.put":
		return s.handleDataPut(ctx, request)
	case "data.list":
		return s.handleDataList(ctx, request)
	case "data.get":
		return s.handleDataGet(ctx, request)
	case "data.delete":
		return s.handleDataDelete(ctx, request)
	case "data.exists":
		return s.handleDataExists(ctx, request)
	case "data.network.fetch":
		return s.handleDataNetworkFetch(ctx, request)
	case "data.network.manifest":
		return s.handleDataNetworkManifest(ctx, request)
	case "space.get":
		return s.handleSpaceGet(ctx, request)
	case "spr.get":
		return s.handleSPRGet(request)
	case "peerid.get":
		return s.handlePeerIDGet(request)
	case "peer.announce":
		return s.handlePeerAnnounce(request)
	case "debug.info":
		return s.handleDebugInfo(request)
	case "debug.loglevel":
		return s.handleDebugLogLevel(request)
	default:
		return Response{ID: request.ID, Error: fmt.Sprintf("unknown method: %s", request.Method)}
	}
}

// handleDataPut implements POST /data: drives the pipeline's upload_init/
// upload_chunk/upload_finalize envelopes back to back for bytes given
// directly in the request, rather than exposing the three-step handshake to
// this one-shot caller, and returns the resulting manifest CID.
func (s *Server) handleDataPut(ctx context.Context, request Request) Response {
	data, ok := request.Params["data"].(string)
	if !ok {
		return Response{ID: request.ID, Error: "data parameter is required"}
	}
	filename, _ := request.Params["filename"].(string)
	blockSize, _ := request.Params["blockSize"].(float64)
	if blockSize <= 0 {
		blockSize = 65536
	}

	id, err := s.submit(func(cb pipeline.Callback, ud interface{}) *pipeline.Request {
		return s.handlers.UploadInit(pipeline.UploadInitPayload{Filepath: filename, ChunkSize: int(blockSize)}, cb, ud)
	})
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	if _, err := s.submit(func(cb pipeline.Callback, ud interface{}) *pipeline.Request {
		return s.handlers.UploadChunk(pipeline.UploadChunkPayload{SessionID: id, Bytes: []byte(data)}, cb, ud)
	}); err != nil {
		return s.errResponse(request.ID, err)
	}
	cidStr, err := s.submit(func(cb pipeline.Callback, ud interface{}) *pipeline.Request {
		return s.handlers.UploadFinalize(pipeline.SessionIDPayload{SessionID: id}, cb, ud)
	})
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"cid": cidStr}}
}

// handleDataList implements GET /data.
func (s *Server) handleDataList(ctx context.Context, request Request) Response {
	raw, err := s.submit(func(cb pipeline.Callback, ud interface{}) *pipeline.Request {
		return s.handlers.List(cb, ud)
	})
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	var cids []string
	if err := json.Unmarshal([]byte(raw), &cids); err != nil {
		return s.errResponse(request.ID, err)
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"cids": cids}}
}

// handleDataGet implements GET /data/{cid}: returns the manifest view for a
// manifest CID.
func (s *Server) handleDataGet(ctx context.Context, request Request) Response {
	c, err := parseCIDParam(request.Params)
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	data, err := s.submit(func(cb pipeline.Callback, ud interface{}) *pipeline.Request {
		return s.handlers.DownloadManifest(pipeline.CIDPayload{CID: c.String()}, cb, ud)
	})
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	var view map[string]interface{}
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		return s.errResponse(request.ID, err)
	}
	return Response{ID: request.ID, Result: view}
}

// handleDataDelete implements DELETE /data/{cid}.
func (s *Server) handleDataDelete(ctx context.Context, request Request) Response {
	c, err := parseCIDParam(request.Params)
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	if _, err := s.submit(func(cb pipeline.Callback, ud interface{}) *pipeline.Request {
		return s.handlers.Delete(pipeline.CIDPayload{CID: c.String()}, cb, ud)
	}); err != nil {
		return s.errResponse(request.ID, err)
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"deleted": true}}
}

// handleDataExists implements GET /data/{cid}/exists.
func (s *Server) handleDataExists(ctx context.Context, request Request) Response {
	c, err := parseCIDParam(request.Params)
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	result, err := s.submit(func(cb pipeline.Callback, ud interface{}) *pipeline.Request {
		return s.handlers.Exists(pipeline.CIDPayload{CID: c.String()}, cb, ud)
	})
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"exists": result == "true"}}
}

// handleDataNetworkFetch implements POST /data/{cid}/network: forces a
// network retrieve of a dataset not held locally, materializing every
// block into the local store as a side effect of draining the stream.
func (s *Server) handleDataNetworkFetch(ctx context.Context, request Request) Response {
	c, err := parseCIDParam(request.Params)
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	stream, err := s.engine.Retrieve(ctx, c, false)
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	buf := make([]byte, 64*1024)
	total := 0
	for {
		n, readErr := stream.Read(buf)
		total += n
		if readErr != nil {
			break
		}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"bytesFetched": total}}
}

// handleDataNetworkManifest implements GET /data/{cid}/network/manifest:
// fetches the manifest from the network if not held locally.
func (s *Server) handleDataNetworkManifest(ctx context.Context, request Request) Response {
	c, err := parseCIDParam(request.Params)
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	m, err := s.engine.FetchManifest(ctx, c)
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	return Response{ID: request.ID, Result: map[string]interface{}{
		"treeCid":     m.TreeCID.String(),
		"datasetSize": m.DatasetSize,
		"blockSize":   m.BlockSize,
		"filename":    m.Filename,
		"mimetype":    m.Mimetype,
	}}
}

// handleSpaceGet implements GET /space, reporting the manifests this node
// currently tracks locally.
func (s *Server) handleSpaceGet(ctx context.Context, request Request) Response {
	var count uint64
	err := s.engine.IterateManifests(ctx, func(c cid.CID, _ manifest.Manifest) error {
		count++
		return nil
	})
	if err != nil {
		return s.errResponse(request.ID, err)
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"datasetCount": count}}
}

// handleSPRGet implements GET /spr: returns this node's signed peer record
// identity fields.
func (s *Server) handleSPRGet(request Request) Response {
	if s.identity == nil {
		return Response{ID: request.ID, Error: "identity not configured"}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"bid": s.identity.BID()}}
}

// handlePeerIDGet implements GET /peerid.
func (s *Server) handlePeerIDGet(request Request) Response {
	if s.identity == nil {
		return Response{ID: request.ID, Error: "identity not configured"}
	}
	return Response{ID: request.ID, Result: map[string]interface{}{"peerId": s.identity.BID()}}
}

// handlePeerAnnounce implements POST /peer/announce: manually records that a
// peer claims to hold a CID, since this node has no DHT or gossip discovery
// layer (see DESIGN.md) and relies on operators or an out-of-band mechanism
// to tell it where to find data it doesn't have locally.
func (s *Server) handlePeerAnnounce(request Request) Response {
	s.mu.RLock()
	providers := s.providers
	s.mu.RUnlock()
	if providers == nil {
		return Response{ID: request.ID, Error: "peer announcements are not supported: no provider store configured"}
	}

	cidStr, _ := request.Params["cid"].(string)
	bid, _ := request.Params["bid"].(string)
	addr, _ := request.Params["addr"].(string)
	if cidStr == "" || bid == "" || addr == "" {
		return Response{ID: request.ID, Error: "cid, bid, and addr parameters are required"}
	}

	var noiseKey []byte
	if noiseKeyHex, ok := request.Params["noiseKey"].(string); ok && noiseKeyHex != "" {
		decoded, err := hex.DecodeString(noiseKeyHex)
		if err != nil {
			return Response{ID: request.ID, Error: "noiseKey must be hex-encoded"}
		}
		noiseKey = decoded
	}

	ttl := defaultProvideTTL
	if secs, ok := request.Params["ttlSeconds"].(float64); ok && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	providers.RecordProvider(cidStr, network.PeerAddr{BID: bid, Addr: addr, NoiseKey: noiseKey}, ttl)
	return Response{ID: request.ID, Result: map[string]interface{}{"announced": true}}
}

// handleDebugInfo implements GET /debug/info.
func (s *Server) handleDebugInfo(request Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	errorCounts := map[string]uint64{}
	for _, kind := range []errs.Kind{
		errs.NotFound, errs.NotAManifest, errs.MalformedManifest, errs.InvalidBlock,
		errs.InvalidCid, errs.QuotaExceeded, errs.IoFailure, errs.NetworkFailure,
		errs.InvalidState, errs.InvalidArgument, errs.Cancelled, errs.DispatchFailed,
		errs.Timeout, errs.Internal,
	} {
		if c := s.errStats.Count(kind); c > 0 {
			errorCounts[string(kind)] = c
		}
	}
	info := map[string]interface{}{
		"logLevel":    s.log.Level().String(),
		"errorsTotal": s.errStats.Total(),
		"errorCounts": errorCounts,
	}
	if last := s.errStats.LastError(); last != nil {
		info["lastError"] = last.Error()
	}
	return Response{ID: request.ID, Result: info}
}

// handleDebugLogLevel implements POST /debug/chronicles/loglevel.
func (s *Server) handleDebugLogLevel(request Request) Response {
	levelStr, ok := request.Params["level"].(string)
	if !ok {
		return Response{ID: request.ID, Error: "level parameter is required"}
	}
	level, ok := logx.ParseLevel(levelStr)
	if !ok {
		return Response{ID: request.ID, Error: fmt.Sprintf("unrecognized log level: %s", levelStr)}
	}
	s.mu.Lock()
	s.log.SetLevel(level)
	s.mu.Unlock()
	return Response{ID: request.ID, Result: map[string]interface{}{"logLevel": level.String()}}
}

func parseCIDParam(params map[string]interface{}) (cid.CID, error) {
	s, ok := params["cid"].(string)
	if !ok {
		return cid.CID{}, fmt.Errorf("cid parameter is required")
	}
	return cid.Parse(s)
}
