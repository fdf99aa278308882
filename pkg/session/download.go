package session

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/node"
)

// DownloadState is the download session's lifecycle state, per spec §3/§4.8.
type DownloadState int

const (
	DownloadInitialized DownloadState = iota
	DownloadStreaming
	DownloadCancelled
	DownloadCompleted
)

func (s DownloadState) String() string {
	switch s {
	case DownloadInitialized:
		return "Initialized"
	case DownloadStreaming:
		return "Streaming"
	case DownloadCancelled:
		return "Cancelled"
	case DownloadCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// DownloadProgress is delivered to download_stream callers as chunks are
// produced.
type DownloadProgress struct {
	Chunk []byte
}

type downloadSession struct {
	mu          sync.Mutex
	id          string
	cid         cid.CID
	blockSize   int
	local       bool
	filepath    string
	state       DownloadState
	stream      *node.RetrieveStream
	cancelled   bool
}

// DownloadManager tracks open download sessions by opaque session ID.
type DownloadManager struct {
	engine *node.Engine

	mu       sync.Mutex
	sessions map[string]*downloadSession
}

// NewDownloadManager creates a manager driving engine.
func NewDownloadManager(engine *node.Engine) *DownloadManager {
	return &DownloadManager{engine: engine, sessions: make(map[string]*downloadSession)}
}

// Init records a new Initialized session for cid and returns its ID. The
// manifest itself is fetched lazily at first chunk read, per spec §3.
func (m *DownloadManager) Init(c cid.CID, blockSize int, local bool, filepath string) (string, error) {
	if blockSize <= 0 {
		return "", errs.New(errs.InvalidArgument, "session: blockSize must be positive")
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = &downloadSession{id: id, cid: c, blockSize: blockSize, local: local, filepath: filepath, state: DownloadInitialized}
	m.mu.Unlock()
	return id, nil
}

func (m *DownloadManager) get(id string) (*downloadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errs.New(errs.InvalidState, "session: unknown download session")
	}
	return s, nil
}

// Stream fetches the manifest, then yields chunks via onChunk while also
// writing to the session's filepath if one was given at Init, per spec §4.8.
func (m *DownloadManager) Stream(ctx context.Context, id string, onChunk func(DownloadProgress)) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != DownloadInitialized {
		s.mu.Unlock()
		return errs.New(errs.InvalidState, "session: download_stream requires Initialized state")
	}
	s.state = DownloadStreaming
	c := s.cid
	local := s.local
	blockSize := s.blockSize
	filepath := s.filepath
	s.mu.Unlock()

	stream, err := m.engine.Retrieve(ctx, c, local)
	if err != nil {
		return err
	}

	var out *os.File
	if filepath != "" {
		out, err = os.Create(filepath)
		if err != nil {
			return errs.Wrap(errs.IoFailure, "session: create download file", err)
		}
		defer out.Close()
	}

	buf := make([]byte, blockSize)
	for {
		s.mu.Lock()
		cancelled := s.cancelled
		s.mu.Unlock()
		if cancelled {
			return nil
		}

		n, readErr := stream.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if out != nil {
				if _, err := out.Write(chunk); err != nil {
					return errs.Wrap(errs.IoFailure, "session: write download file", err)
				}
			}
			if onChunk != nil {
				onChunk(DownloadProgress{Chunk: chunk})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	s.mu.Lock()
	s.state = DownloadCompleted
	s.mu.Unlock()
	return nil
}

// Chunk returns one chunk per call, stepping the session's internal cursor.
// The manifest (and thus the underlying stream) is opened lazily on first
// call.
func (m *DownloadManager) Chunk(ctx context.Context, id string) ([]byte, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == DownloadCancelled {
		return nil, errs.New(errs.InvalidState, "session: download session was cancelled")
	}
	if s.state == DownloadCompleted {
		return nil, io.EOF
	}

	if s.stream == nil {
		stream, err := m.engine.Retrieve(ctx, s.cid, s.local)
		if err != nil {
			return nil, err
		}
		s.stream = stream
		s.state = DownloadStreaming
	}

	buf := make([]byte, s.blockSize)
	n, err := s.stream.Read(buf)
	if err == io.EOF {
		s.state = DownloadCompleted
		if n == 0 {
			return nil, io.EOF
		}
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Cancel halts further emissions from the session.
func (m *DownloadManager) Cancel(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.state = DownloadCancelled
	return nil
}

// manifestView is the JSON shape download_manifest returns over the FFI and
// REST surfaces, per spec §8 scenario A.
type manifestView struct {
	TreeCID     string `json:"treeCid"`
	DatasetSize uint64 `json:"datasetSize"`
	BlockSize   uint32 `json:"blockSize"`
	Filename    string `json:"filename"`
	Mimetype    string `json:"mimetype"`
	Protected   bool   `json:"protected"`
}

// Manifest returns only the manifest for cid, as JSON.
func (m *DownloadManager) Manifest(ctx context.Context, c cid.CID) ([]byte, error) {
	mf, err := m.engine.FetchManifest(ctx, c)
	if err != nil {
		return nil, err
	}
	view := manifestView{
		TreeCID:     mf.TreeCID.String(),
		DatasetSize: mf.DatasetSize,
		BlockSize:   mf.BlockSize,
		Filename:    mf.Filename,
		Mimetype:    mf.Mimetype,
		Protected:   false,
	}
	data, err := json.Marshal(view)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "session: marshal manifest view", err)
	}
	return data, nil
}

// State returns the session's current lifecycle state.
func (m *DownloadManager) State(id string) (DownloadState, error) {
	s, err := m.get(id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}
