package pipeline

import (
	"context"
	"encoding/json"

	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/manifest"
	"github.com/beenet-project/storagenode/pkg/node"
	"github.com/beenet-project/storagenode/pkg/session"
)

// Handlers binds a Worker's request envelopes to the node engine and the
// upload/download session managers, so that foreign callers only ever see
// requests by Kind and JSON payload — mirroring the upload_*/download_*/
// list/space/delete FFI surface of spec §6.
type Handlers struct {
	engine    *node.Engine
	uploads   *session.UploadManager
	downloads *session.DownloadManager
}

// NewHandlers constructs a Handlers bound to engine and its session
// managers.
func NewHandlers(engine *node.Engine) *Handlers {
	return &Handlers{
		engine:    engine,
		uploads:   session.NewUploadManager(engine),
		downloads: session.NewDownloadManager(engine),
	}
}

// UploadInitPayload mirrors upload_init(ctx, filepath, chunkSize, ...).
type UploadInitPayload struct {
	Filepath  string `json:"filepath"`
	ChunkSize int    `json:"chunkSize"`
}

// UploadChunkPayload mirrors upload_chunk(ctx, sessionId, bytes, len, ...).
type UploadChunkPayload struct {
	SessionID string `json:"sessionId"`
	Bytes     []byte `json:"bytes"`
}

// SessionIDPayload is shared by upload_finalize/upload_cancel/upload_file/
// download_cancel, all of which take only a sessionId.
type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}

// DownloadInitPayload mirrors download_init(ctx, cid, chunkSize, local, ...).
type DownloadInitPayload struct {
	CID       string `json:"cid"`
	ChunkSize int    `json:"chunkSize"`
	Local     bool   `json:"local"`
}

// DownloadStreamPayload mirrors download_stream(ctx, cid, chunkSize, local,
// filepath, ...).
type DownloadStreamPayload struct {
	CID       string `json:"cid"`
	ChunkSize int    `json:"chunkSize"`
	Local     bool   `json:"local"`
	Filepath  string `json:"filepath"`
}

// CIDPayload is shared by delete/fetch/exists/download_manifest, all of
// which take only a cid.
type CIDPayload struct {
	CID string `json:"cid"`
}

// UploadInit builds a request envelope for upload_init.
func (h *Handlers) UploadInit(payload UploadInitPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindUpload,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			id, err := h.uploads.Init(payload.Filepath, payload.ChunkSize)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, id)
		},
	}
}

// UploadChunk builds a request envelope for upload_chunk.
func (h *Handlers) UploadChunk(payload UploadChunkPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindUpload,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			if err := h.uploads.Chunk(payload.SessionID, payload.Bytes); err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, "")
		},
	}
}

// UploadFinalize builds a request envelope for upload_finalize.
func (h *Handlers) UploadFinalize(payload SessionIDPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindUpload,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			c, err := h.uploads.Finalize(ctx, payload.SessionID)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, c.String())
		},
	}
}

// UploadFile builds a request envelope for upload_file, emitting PROGRESS
// callbacks as blocks are stored.
func (h *Handlers) UploadFile(payload SessionIDPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindUpload,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			c, err := h.uploads.File(ctx, payload.SessionID, func(p session.UploadProgress) {
				progress(itoa(p.BytesStored))
			})
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, c.String())
		},
	}
}

// UploadCancel builds a request envelope for upload_cancel.
func (h *Handlers) UploadCancel(payload SessionIDPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindUpload,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			if err := h.uploads.Cancel(payload.SessionID); err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, "")
		},
	}
}

// DownloadInit builds a request envelope for download_init.
func (h *Handlers) DownloadInit(payload DownloadInitPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindDownload,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			c, err := cid.Parse(payload.CID)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			id, err := h.downloads.Init(c, payload.ChunkSize, payload.Local, "")
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, id)
		},
	}
}

// DownloadStream builds a request envelope for download_stream, emitting
// one PROGRESS callback per chunk.
func (h *Handlers) DownloadStream(payload DownloadStreamPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindDownload,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			c, err := cid.Parse(payload.CID)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			id, err := h.downloads.Init(c, payload.ChunkSize, payload.Local, payload.Filepath)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			err = h.downloads.Stream(ctx, id, func(p session.DownloadProgress) {
				progress(itoa(len(p.Chunk)))
			})
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, "")
		},
	}
}

// DownloadCancel builds a request envelope for download_cancel.
func (h *Handlers) DownloadCancel(payload SessionIDPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindDownload,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			if err := h.downloads.Cancel(payload.SessionID); err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, "")
		},
	}
}

// DownloadManifest builds a request envelope for download_manifest.
func (h *Handlers) DownloadManifest(payload CIDPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindDownload,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			c, err := cid.Parse(payload.CID)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			data, err := h.downloads.Manifest(ctx, c)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, string(data))
		},
	}
}

// Delete builds a request envelope for delete(ctx, cid, ...).
func (h *Handlers) Delete(payload CIDPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindStorage,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			c, err := cid.Parse(payload.CID)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			if err := h.engine.Delete(ctx, c); err != nil {
				ret(CodeErr, err.Error())
				return
			}
			ret(CodeOK, "")
		},
	}
}

// Exists builds a request envelope for exists(ctx, cid, ...).
func (h *Handlers) Exists(payload CIDPayload, cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindStorage,
		Payload:  payload,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			c, err := cid.Parse(payload.CID)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			has, err := h.engine.HasLocalBlock(ctx, c)
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			if has {
				ret(CodeOK, "true")
			} else {
				ret(CodeOK, "false")
			}
		},
	}
}

// List builds a request envelope for list(ctx, ...), returning a JSON array
// of manifest CID strings.
func (h *Handlers) List(cb Callback, userData interface{}) *Request {
	return &Request{
		Kind:     KindStorage,
		Callback: cb,
		UserData: userData,
		Process: func(ctx context.Context, progress func(string), ret func(Code, string)) {
			var cids []string
			err := h.engine.IterateManifests(ctx, func(c cid.CID, _ manifest.Manifest) error {
				cids = append(cids, c.String())
				return nil
			})
			if err != nil {
				ret(CodeErr, err.Error())
				return
			}
			data, _ := json.Marshal(cids)
			ret(CodeOK, string(data))
		},
	}
}

func itoa(i int) string {
	data, _ := json.Marshal(i)
	return string(data)
}
