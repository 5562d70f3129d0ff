// Package rpc implements the Framed Transport (C1) and RPC Multiplexer
// (C2) that mediate JSON-RPC calls to the Pike child interpreter over
// its stdin/stdout, per spec.md §4.1-4.2 and §6.
package rpc

import "encoding/json"

// Request is the child-facing JSON-RPC 2.0 envelope. Notifications omit ID.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int        `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is the child-facing JSON-RPC 2.0 response envelope. Result may
// carry a nested "_perf" field which Multiplexer.Call strips before
// returning to the Analysis Facade.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`
}

// RemoteError is a well-formed JSON-RPC error object.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PerfMeta is the performance metadata a successful result may carry
// under "_perf", stripped from the user-visible payload by the
// Multiplexer and exposed as a sibling value.
type PerfMeta map[string]any

// Result is what Multiplexer.Call returns on success: the raw result
// payload with any "_perf" block extracted.
type Result struct {
	Raw  json.RawMessage
	Perf PerfMeta
}

// splitPerf extracts a top-level "_perf" key from a JSON object payload,
// returning the remaining payload and the extracted metadata, if any.
// A payload without "_perf" is returned unchanged; one with it is
// re-marshaled without that key.
func splitPerf(raw json.RawMessage) (json.RawMessage, PerfMeta) {
	if len(raw) == 0 {
		return raw, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw, nil
	}
	perfRaw, ok := obj["_perf"]
	if !ok {
		return raw, nil
	}
	var perf PerfMeta
	if err := json.Unmarshal(perfRaw, &perf); err != nil {
		return raw, nil
	}
	delete(obj, "_perf")
	stripped, err := json.Marshal(obj)
	if err != nil {
		return raw, perf
	}
	return stripped, perf
}
