// Package rpc bridges the engine interfaces over JSON-RPC 2.0. Messages are
// single JSON objects separated by newlines, so the bridge runs over the
// stdin/stdout pipes of an engine subprocess or any other byte stream.
//
// Four methods make up the protocol:
//
//	engine.open   {"path": string}                            -> {"handle": int}
//	engine.create {"path": string}                            -> null
//	engine.invoke {"handle": int, "name": string, "args": []} -> any
//	engine.close  {"handle": int}                             -> null
//
// Engine failures use error code -32000 with {"kind": ..., "op": ...} in the
// error data, so the receiving side classifies them without reading the
// message text.
package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sneaker-boar/sneaker/internal/engine"
)

const protocolVersion = "2.0"

// Method names.
const (
	MethodOpen   = "engine.open"
	MethodCreate = "engine.create"
	MethodInvoke = "engine.invoke"
	MethodClose  = "engine.close"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeEngineError    = -32000
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// isNotification reports whether the request expects no response.
func (r *request) isNotification() bool {
	return len(r.ID) == 0
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *errorData `json:"data,omitempty"`
}

type errorData struct {
	Kind string `json:"kind"`
	Op   string `json:"op,omitempty"`
}

type pathParams struct {
	Path string `json:"path"`
}

type openResult struct {
	Handle int64 `json:"handle"`
}

type invokeParams struct {
	Handle int64  `json:"handle"`
	Name   string `json:"name"`
	Args   []any  `json:"args"`
}

type handleParams struct {
	Handle int64 `json:"handle"`
}

// toRPCError encodes an engine failure for the wire.
func toRPCError(err error) *rpcError {
	op := ""
	var ee *engine.Error
	if errors.As(err, &ee) {
		op = ee.Op
	}
	return &rpcError{
		Code:    CodeEngineError,
		Message: err.Error(),
		Data:    &errorData{Kind: string(engine.KindOf(err)), Op: op},
	}
}

// toEngineError decodes a wire error back into an *engine.Error. Protocol
// level codes without data are mapped onto the closest kind.
func (e *rpcError) toEngineError(method string) *engine.Error {
	if e.Data != nil && e.Data.Kind != "" {
		return &engine.Error{Kind: engine.Kind(e.Data.Kind), Op: e.Data.Op, Message: e.Message}
	}
	kind := engine.KindInternal
	switch e.Code {
	case CodeMethodNotFound:
		kind = engine.KindUnknownOperation
	case CodeInvalidParams:
		kind = engine.KindInvalidArguments
	case CodeParseError, CodeInvalidRequest:
		kind = engine.KindTransport
	}
	return &engine.Error{Kind: kind, Op: method, Message: e.Message}
}

// decodeJSON unmarshals with numbers kept as json.Number so integer
// arguments survive the trip intact.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// lineWriter serializes whole messages onto w, one per line.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')

	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err = lw.w.Write(data)
	return err
}

// readLine returns the next non-empty line without its terminator.
func readLine(r *bufio.Reader) ([]byte, error) {
	for {
		line, err := r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
