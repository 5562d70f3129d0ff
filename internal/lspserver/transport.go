// Package lspserver implements the editor-facing LSP Handler Layer
// (C11): a Content-Length framed JSON-RPC 2.0 transport over stdio,
// feeding decoded requests into the Dispatcher and writing its replies
// back out the same way. The read loop and header parsing are adapted
// directly from the teacher's own Server.Run in
// internal/tools/lsp/server.go, generalized from one big method switch
// into Dispatcher.Register calls.
package lspserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/poppa/pike-lsp-sub007/internal/dispatcher"
	"github.com/poppa/pike-lsp-sub007/internal/logging"
)

const (
	maxHeaderBytes   = 32 << 10
	maxHeaderLines   = 100
	maxContentLength = 8 << 20
)

// rpcMessage is the wire envelope for both requests/responses and
// notifications; ID is nil for notifications.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Transport reads Content-Length framed JSON-RPC from in and writes
// framed responses/notifications to out.
type Transport struct {
	in  *bufio.Reader
	out io.Writer
	mu  sync.Mutex
	log interface {
		Warning(string, ...any)
		Error(string, ...any)
	}
}

// NewTransport wraps in/out for one LSP connection (normally os.Stdin
// and os.Stdout).
func NewTransport(in io.Reader, out io.Writer) *Transport {
	return &Transport{in: bufio.NewReader(in), out: out, log: logging.For(logging.LayerServer)}
}

// Serve reads frames from the transport until EOF or a read error,
// dispatching each to d and decoding params using the method's
// registered param shape via dispatch.
func (t *Transport) Serve(d *dispatcher.Dispatcher, paramsFor func(method string) any) error {
	for {
		body, err := t.readFrame()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var msg rpcMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			t.replyError(nil, -32700, "parse error")
			continue
		}

		var params any
		if len(msg.Params) > 0 {
			target := paramsFor(msg.Method)
			if target != nil {
				if err := json.Unmarshal(msg.Params, target); err != nil {
					t.replyError(msg.ID, -32602, fmt.Sprintf("invalid params: %s", msg.Method))
					continue
				}
				params = target
			} else {
				var generic map[string]any
				_ = json.Unmarshal(msg.Params, &generic)
				params = generic
			}
		}

		d.Dispatch(dispatcher.Request{ID: msg.ID, Method: msg.Method, Params: params})
	}
}

func (t *Transport) readFrame() ([]byte, error) {
	contentLength := 0
	headerBytes, headerLines := 0, 0

	for {
		line, err := t.in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		headerBytes += len(line)
		headerLines++
		if headerBytes > maxHeaderBytes || headerLines > maxHeaderLines {
			return nil, fmt.Errorf("lspserver: headers too large")
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			name := strings.TrimSpace(strings.ToLower(line[:idx]))
			if name == "content-length" {
				val := strings.TrimRight(strings.TrimSpace(line[idx+1:]), "\r\n")
				if n, err := strconv.Atoi(val); err == nil {
					contentLength = n
				}
			}
		}
	}

	if contentLength <= 0 || contentLength > maxContentLength {
		return nil, fmt.Errorf("lspserver: invalid content-length %d", contentLength)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.in, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Reply implements dispatcher.ReplyFunc: writes a JSON-RPC success or
// error response for the given request id.
func (t *Transport) Reply(id int, result any, err error) {
	if err != nil {
		t.replyError(&id, errorCode(err), err.Error())
		return
	}
	t.write(rpcMessage{JSONRPC: "2.0", ID: &id, Result: result})
}

func (t *Transport) replyError(id *int, code int, message string) {
	t.write(rpcMessage{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

// Notify sends a server-initiated notification (no id), e.g.
// textDocument/publishDiagnostics.
func (t *Transport) Notify(method string, params any) {
	data, err := json.Marshal(params)
	if err != nil {
		t.log.Error("lspserver: marshal notification {Method}: {Error}", method, err)
		return
	}
	t.write(rpcMessage{JSONRPC: "2.0", Method: method, Params: data})
}

func (t *Transport) write(msg rpcMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		t.log.Error("lspserver: marshal message: {Error}", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "Content-Length: %d\r\n\r\n", len(data))
	t.out.Write(data)
}
