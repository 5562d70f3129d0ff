// Package dispatcher implements the single-threaded cooperative event
// loop of spec.md §5: incoming LSP requests/notifications are
// processed one at a time off a queue, with long-running handlers
// expected to check ctx.Done() so a $/cancelRequest notification can
// actually cut work short rather than merely suppress the reply.
package dispatcher

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/poppa/pike-lsp-sub007/internal/logging"
)

// Request is one decoded inbound LSP message queued for dispatch. ID
// is nil for notifications (no reply expected).
type Request struct {
	ID     *int
	Method string
	Params any
}

// Handler processes one Request against the current Services/other
// state the dispatcher was constructed with, returning a JSON-able
// result or an error to surface as a JSON-RPC error reply.
type Handler func(ctx context.Context, req Request) (any, error)

// ReplyFunc sends a response/error for one request id back to the
// client; notifications (ID == nil) never call it.
type ReplyFunc func(id int, result any, err error)

// Dispatcher serializes handler execution: only one handler body runs
// at a time, matching the teacher's single read-loop-per-connection
// model, generalized here to also track in-flight request ids for
// cancellation.
type Dispatcher struct {
	handlers map[string]Handler
	reply    ReplyFunc
	log      interface {
		Error(string, ...any)
		Debug(string, ...any)
	}

	mu         sync.Mutex
	cancelFns  map[int]context.CancelFunc
	queue      chan Request
	done       chan struct{}
}

// New constructs a Dispatcher that delivers replies through reply and
// buffers up to queueDepth pending requests before Dispatch blocks.
func New(reply ReplyFunc, queueDepth int) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Dispatcher{
		handlers:  make(map[string]Handler),
		reply:     reply,
		log:       logging.For(logging.LayerServer),
		cancelFns: make(map[int]context.CancelFunc),
		queue:     make(chan Request, queueDepth),
		done:      make(chan struct{}),
	}
}

// Register binds method to handler. Call before Run starts consuming
// the queue; registering after Run has started is not safe for
// concurrent use.
func (d *Dispatcher) Register(method string, h Handler) {
	d.handlers[method] = h
}

// Dispatch enqueues req for processing, applying backpressure if the
// queue is full (the transport's read loop blocks, which is the
// correct behavior: a client that outruns the dispatcher should stall
// on its own stdout pipe rather than have requests silently dropped).
func (d *Dispatcher) Dispatch(req Request) {
	if req.Method == "$/cancelRequest" {
		d.handleCancel(req)
		return
	}
	d.queue <- req
}

func (d *Dispatcher) handleCancel(req Request) {
	params, ok := req.Params.(map[string]any)
	if !ok {
		return
	}
	idf, ok := params["id"].(float64)
	if !ok {
		return
	}
	id := int(idf)

	d.mu.Lock()
	cancel, ok := d.cancelFns[id]
	if !ok {
		// Not dequeued yet: leave a nil marker so process cancels it on arrival.
		d.cancelFns[id] = nil
	}
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run processes the queue until ctx is cancelled. Exactly one handler
// body executes at a time, per spec.md §5's single cooperative
// dispatcher model.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.queue:
			d.process(ctx, req)
		}
	}
}

func (d *Dispatcher) process(parent context.Context, req Request) {
	reqCtx, cancel := context.WithCancel(parent)
	if req.ID != nil {
		d.mu.Lock()
		_, early := d.cancelFns[*req.ID]
		d.cancelFns[*req.ID] = cancel
		d.mu.Unlock()
		if early {
			cancel()
		}
		defer func() {
			d.mu.Lock()
			delete(d.cancelFns, *req.ID)
			d.mu.Unlock()
			cancel()
		}()
	} else {
		defer cancel()
	}

	h, ok := d.handlers[req.Method]
	if !ok {
		if req.ID != nil {
			d.reply(*req.ID, nil, unknownMethodError(req.Method))
		}
		return
	}

	result, err := d.safeCall(reqCtx, h, req)
	if req.ID != nil {
		d.reply(*req.ID, result, err)
	}
}

func (d *Dispatcher) safeCall(ctx context.Context, h Handler, req Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatcher: panic in handler {Method}: {Panic}\n{Stack}", req.Method, r, string(debug.Stack()))
			err = panicError(req.Method, r)
		}
	}()
	return h(ctx, req)
}

// QueueLen reports how many requests are waiting to be processed,
// used by the health command to surface dispatcher backlog.
func (d *Dispatcher) QueueLen() int { return len(d.queue) }
