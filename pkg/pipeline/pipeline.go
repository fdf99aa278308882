// Package pipeline implements the request pipeline described in spec
// §4.9/§5: a single dedicated worker goroutine per context that drains a
// single-producer/single-consumer request channel and processes each request
// on a goroutine of its own, which also invokes the completion callback. It
// is the Go-native stand-in for the FFI worker thread model — foreign callers
// submit a request envelope and get their callback invoked asynchronously,
// while actual ordering and backpressure decisions stay inside the worker
// loop, grounded on the ctx.Done()/select worker-loop idiom of the teacher's
// SWIM and gossip protocol loops (those packages are not part of this
// module).
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/beenet-project/storagenode/pkg/errs"
)

// Kind names the category of work a request envelope carries, per spec §4.9.
type Kind int

const (
	KindLifecycle Kind = iota
	KindInfo
	KindDebug
	KindP2P
	KindUpload
	KindDownload
	KindStorage
)

// Code is the completion callback's status code, per spec §4.9.
type Code int

const (
	CodeOK               Code = 0
	CodeErr              Code = 1
	CodeMissingCallback  Code = 2
	CodeProgress         Code = 3
)

// Callback receives completion (and, for streaming requests, progress)
// notifications. It runs on the goroutine the worker spawns for the request
// and must not block.
type Callback func(code Code, msg string, userData interface{})

// Request is the (kind, payload, callback, userData) envelope submitted by a
// foreign caller.
type Request struct {
	Kind     Kind
	Payload  interface{}
	Callback Callback
	UserData interface{}

	// Process does the actual work. It is invoked on the goroutine the
	// worker spawns for the request and must call ret(code, msg) exactly once to report its terminal
	// status; it may call progress(msg) any number of times first.
	Process func(ctx context.Context, progress func(msg string), ret func(code Code, msg string))
}

// defaultChannelDepth is the SPSC channel's buffer: enough to decouple one
// in-flight submission's enqueue from the worker's drain without any
// unbounded queuing, per spec §4.9 ("single-producer/single-consumer
// request channel").
const defaultChannelDepth = 1

// Worker runs the dedicated worker goroutine that owns the request channel.
// One Worker exists per context, matching spec §5's "one additional thread
// (the worker) per context."
type Worker struct {
	submitMu sync.Mutex // serializes concurrent foreign-side submitters

	ch      chan *Request
	reqRecv chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	ackTimeout time.Duration
}

// Options configures a Worker.
type Options struct {
	// AckTimeout bounds how long Submit waits for reqSignal delivery
	// before giving up with DispatchFailed, per spec §4.9 step 4.
	AckTimeout time.Duration
}

const defaultAckTimeout = 5 * time.Second

// New starts a Worker's dedicated goroutine and returns it running.
func New(opts Options) *Worker {
	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	w := &Worker{
		ch:         make(chan *Request, defaultChannelDepth),
		reqRecv:    make(chan struct{}),
		done:       make(chan struct{}),
		ackTimeout: ackTimeout,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Submit implements the foreign-side submission sequence of spec §4.9:
// acquire the lock, try to enqueue, wait for the worker's acknowledgement
// with a bounded timeout, then release the lock. The request's callback is
// invoked later, asynchronously, on the goroutine the worker spawns for it.
func (w *Worker) Submit(req *Request) error {
	if req.Callback == nil && req.Process != nil {
		return errs.New(errs.InvalidArgument, "pipeline: request has no callback")
	}

	w.submitMu.Lock()
	defer w.submitMu.Unlock()

	select {
	case <-w.done:
		return errs.New(errs.InvalidState, "pipeline: worker has been destroyed")
	default:
	}

	select {
	case w.ch <- req:
	default:
		return errs.New(errs.DispatchFailed, "pipeline: request channel full")
	}

	select {
	case <-w.reqRecv:
		return nil
	case <-time.After(w.ackTimeout):
		return errs.New(errs.DispatchFailed, "pipeline: worker did not acknowledge request in time")
	case <-w.done:
		return errs.New(errs.DispatchFailed, "pipeline: worker destroyed before acknowledging request")
	}
}

// loop is the worker goroutine: await a request, drain it, acknowledge
// receipt, then spawn its processing so the loop can immediately return to
// draining the channel. Per spec §4.9 ("spawn async task: req.process(...)")
// and §5 ("across sessions, operations are independent and may be
// interleaved"), a long-running request (e.g. streaming a multi-GB
// download) must not block acknowledgement of unrelated submissions.
func (w *Worker) loop() {
	defer w.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-w.done:
			return
		case req := <-w.ch:
			w.reqRecv <- struct{}{}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.process(ctx, req)
			}()
		}
	}
}

func (w *Worker) process(ctx context.Context, req *Request) {
	if req.Callback == nil {
		return
	}
	if req.Process == nil {
		req.Callback(CodeMissingCallback, "pipeline: request has no processor", req.UserData)
		return
	}

	progress := func(msg string) {
		req.Callback(CodeProgress, msg, req.UserData)
	}
	ret := func(code Code, msg string) {
		req.Callback(code, msg, req.UserData)
	}
	req.Process(ctx, progress, ret)
}

// Destroy implements spec §4.9's shutdown sequence: stop accepting new
// submissions, signal the worker loop, and wait for it to exit.
func (w *Worker) Destroy() {
	w.submitMu.Lock()
	select {
	case <-w.done:
		w.submitMu.Unlock()
		return
	default:
		close(w.done)
	}
	w.submitMu.Unlock()
	w.wg.Wait()
}
