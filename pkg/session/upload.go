// Package session implements the upload and download session state
// machines described in spec §3/§4.7/§4.8: short-lived, map-keyed records
// that drive the node engine on behalf of a single foreign-side caller.
// Grounded on the teacher's map-of-handles pattern in pkg/control for
// tracking independent, concurrently-accessed state by opaque ID.
package session

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/node"
)

// UploadState is the upload session's lifecycle state, per spec §3/§4.7.
type UploadState int

const (
	UploadOpen UploadState = iota
	UploadFinalizing
	UploadCancelled
	UploadCompleted
)

func (s UploadState) String() string {
	switch s {
	case UploadOpen:
		return "Open"
	case UploadFinalizing:
		return "Finalizing"
	case UploadCancelled:
		return "Cancelled"
	case UploadCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// UploadProgress is delivered to upload_file callers for each block stored,
// suppressed when blockSize exceeds the session's chunk size per spec §4.7.
type UploadProgress struct {
	BytesStored int
}

type uploadSession struct {
	mu        sync.Mutex
	id        string
	filepath  string
	blockSize int
	state     UploadState
	buffer    bytes.Buffer
	resultCID cid.CID
}

// UploadManager tracks open upload sessions by opaque session ID.
type UploadManager struct {
	engine *node.Engine

	mu       sync.Mutex
	sessions map[string]*uploadSession
}

// NewUploadManager creates a manager driving engine.
func NewUploadManager(engine *node.Engine) *UploadManager {
	return &UploadManager{engine: engine, sessions: make(map[string]*uploadSession)}
}

// Init creates a new Open session and returns its opaque, unguessable ID.
func (m *UploadManager) Init(filepath string, blockSize int) (string, error) {
	if blockSize <= 0 {
		return "", errs.New(errs.InvalidArgument, "session: blockSize must be positive")
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = &uploadSession{id: id, filepath: filepath, blockSize: blockSize, state: UploadOpen}
	m.mu.Unlock()
	return id, nil
}

func (m *UploadManager) get(id string) (*uploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errs.New(errs.InvalidState, "session: unknown upload session")
	}
	return s, nil
}

// Chunk appends data to the session's pending buffer. Valid only in Open.
func (m *UploadManager) Chunk(id string, data []byte) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != UploadOpen {
		return errs.New(errs.InvalidState, "session: upload_chunk requires Open state")
	}
	s.buffer.Write(data)
	return nil
}

// Finalize drives the session's accumulated bytes through the engine and
// transitions Open -> Finalizing -> Completed.
func (m *UploadManager) Finalize(ctx context.Context, id string) (cid.CID, error) {
	s, err := m.get(id)
	if err != nil {
		return cid.CID{}, err
	}

	s.mu.Lock()
	if s.state != UploadOpen {
		s.mu.Unlock()
		return cid.CID{}, errs.New(errs.InvalidState, "session: upload_finalize requires Open state")
	}
	s.state = UploadFinalizing
	data := append([]byte(nil), s.buffer.Bytes()...)
	blockSize := s.blockSize
	s.mu.Unlock()

	c, err := m.engine.Store(ctx, io.NopCloser(bytes.NewReader(data)), filenameOf(s.filepath), "", blockSize, nil)
	if err != nil {
		return cid.CID{}, err
	}

	s.mu.Lock()
	s.state = UploadCompleted
	s.resultCID = c
	s.mu.Unlock()
	return c, nil
}

// File opens the file named by the session's filepath and feeds it through
// the engine directly, emitting a progress callback per block stored when
// blockSize <= the session's configured chunk size.
func (m *UploadManager) File(ctx context.Context, id string, onProgress func(UploadProgress)) (cid.CID, error) {
	s, err := m.get(id)
	if err != nil {
		return cid.CID{}, err
	}

	s.mu.Lock()
	if s.state != UploadOpen {
		s.mu.Unlock()
		return cid.CID{}, errs.New(errs.InvalidState, "session: upload_file requires Open state")
	}
	s.state = UploadFinalizing
	filepath := s.filepath
	blockSize := s.blockSize
	s.mu.Unlock()

	f, err := os.Open(filepath)
	if err != nil {
		return cid.CID{}, errs.Wrap(errs.IoFailure, "session: open upload file", err)
	}

	var onBlockStored node.OnBlockStored
	if onProgress != nil {
		onBlockStored = func(chunkBytes []byte) {
			onProgress(UploadProgress{BytesStored: len(chunkBytes)})
		}
	}

	c, err := m.engine.Store(ctx, f, filenameOf(filepath), "", blockSize, onBlockStored)
	if err != nil {
		return cid.CID{}, err
	}

	s.mu.Lock()
	s.state = UploadCompleted
	s.resultCID = c
	s.mu.Unlock()
	return c, nil
}

// Cancel terminates the session and discards buffered state. Valid only in
// Open.
func (m *UploadManager) Cancel(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != UploadOpen {
		return errs.New(errs.InvalidState, "session: upload_cancel requires Open state")
	}
	s.state = UploadCancelled
	s.buffer.Reset()
	return nil
}

// State returns the session's current lifecycle state.
func (m *UploadManager) State(id string) (UploadState, error) {
	s, err := m.get(id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func filenameOf(path string) string {
	if path == "" {
		return ""
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
