package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/poppa/pike-lsp-sub007/internal/logging"
	"github.com/poppa/pike-lsp-sub007/internal/perr"
)

// pending tracks one outstanding request awaiting correlation by id.
type pending struct {
	resp chan *Response
}

// Multiplexer implements the RPC Multiplexer (C2): request/response
// correlation by id, per-call timeout, in-flight deduplication via a
// singleflight.Group keyed on an optional dedup key. The child's stderr
// is drained by the Supervisor, not here. One Multiplexer wraps exactly one Framer for the lifetime
// of a single child process; the Supervisor (C3) replaces it across
// restarts.
type Multiplexer struct {
	framer *Framer

	mu      sync.Mutex
	nextID  int32
	pending map[int]*pending

	sf singleflight.Group

	log interface {
		Debug(string, ...any)
		Warning(string, ...any)
	}

	closed   chan struct{}
	closeErr error
	once     sync.Once
}

// CallOption configures a single Call.
type CallOption func(*callOpts)

type callOpts struct {
	timeout  time.Duration
	dedupKey string
}

// WithTimeout overrides the default per-call timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOpts) { o.timeout = d }
}

// WithDedupKey enables in-flight deduplication: a second Call with the
// same key while the first is outstanding attaches to the same
// completion instead of issuing a second request.
func WithDedupKey(key string) CallOption {
	return func(o *callOpts) { o.dedupKey = key }
}

const defaultTimeout = 30 * time.Second

// NewMultiplexer wraps framer and starts the response-correlation pump.
func NewMultiplexer(framer *Framer) *Multiplexer {
	m := &Multiplexer{
		framer:  framer,
		pending: make(map[int]*pending),
		log:     logging.For(logging.LayerBridge),
		closed:  make(chan struct{}),
	}
	go m.pump()
	return m
}

// pump correlates responses with pending requests and reacts to the
// child's stdout closing (process exit) or parse errors.
func (m *Multiplexer) pump() {
	lines := m.framer.Lines()
	errsCh := m.framer.Errors()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				m.shutdown(perr.Wrap(perr.KindTransport, nil, "child stdout closed"))
				return
			}
			m.dispatch(line)
		case e, ok := <-errsCh:
			if !ok {
				continue
			}
			m.log.Warning("rpc parse error: {Error}", e)
		}
	}
}

func (m *Multiplexer) dispatch(line []byte) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		m.log.Warning("rpc: malformed response frame: {Error}", err)
		return
	}

	m.mu.Lock()
	p, ok := m.pending[resp.ID]
	if ok {
		delete(m.pending, resp.ID)
	}
	m.mu.Unlock()

	if !ok {
		m.log.Warning("rpc: response for unknown id {ID}", resp.ID)
		return
	}
	p.resp <- &resp
}

// shutdown rejects all pending requests with the given error and marks
// the multiplexer closed. Safe to call multiple times.
func (m *Multiplexer) shutdown(cause *perr.Error) {
	m.once.Do(func() {
		m.mu.Lock()
		toReject := m.pending
		m.pending = make(map[int]*pending)
		m.mu.Unlock()

		for _, p := range toReject {
			close(p.resp)
		}
		m.closeErr = cause
		close(m.closed)
	})
}

// Shutdown is called by the Supervisor when the child exits, rejecting
// every outstanding request with Transport.
func (m *Multiplexer) Shutdown() {
	m.shutdown(perr.Wrap(perr.KindTransport, nil, "supervisor initiated shutdown"))
}

// Call issues method/params to the child and waits for a correlated
// response, or for timeout/ctx cancellation/child exit. On success the
// "_perf" block (if any) is stripped and returned alongside Raw.
func (m *Multiplexer) Call(ctx context.Context, method string, params any, opts ...CallOption) (*Result, error) {
	o := callOpts{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	do := func() (any, error) { return m.doCall(ctx, method, params, o.timeout) }

	if o.dedupKey != "" {
		v, err, _ := m.sf.Do(o.dedupKey, do)
		if err != nil {
			return nil, err
		}
		return v.(*Result), nil
	}

	v, err := do()
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (m *Multiplexer) doCall(ctx context.Context, method string, params any, timeout time.Duration) (*Result, error) {
	select {
	case <-m.closed:
		return nil, perr.Wrap(perr.KindTransport, m.closeErr, "multiplexer closed before call %q", method)
	default:
	}

	id := int(atomic.AddInt32(&m.nextID, 1))
	p := &pending{resp: make(chan *Response, 1)}

	m.mu.Lock()
	m.pending[id] = p
	m.mu.Unlock()

	req := Request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := m.framer.Send(req); err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, perr.Wrap(perr.KindTransport, err, "send request %q (id=%d)", method, id)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case resp, ok := <-p.resp:
		if !ok {
			return nil, perr.Wrap(perr.KindTransport, m.closeErr, "connection closed while awaiting %q (id=%d)", method, id)
		}
		return m.toResult(resp)
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		if ctx.Err() == context.Canceled {
			return nil, perr.New(perr.KindCancelled, "call %q (id=%d) cancelled", method, id)
		}
		return nil, perr.New(perr.KindTimeout, "call %q (id=%d) timed out after %s", method, id, timeout)
	}
}

func (m *Multiplexer) toResult(resp *Response) (*Result, error) {
	if resp.Error != nil {
		return nil, perr.Remote(resp.Error.Code, resp.Error.Message)
	}
	raw, perfMeta := splitPerf(resp.Result)
	return &Result{Raw: raw, Perf: perfMeta}, nil
}

// PendingCount reports the number of outstanding requests; used by
// tests asserting the pending-id invariant from spec.md §8.
func (m *Multiplexer) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
