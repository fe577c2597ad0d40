package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sneaker-boar/sneaker/internal/engine"
	"github.com/sneaker-boar/sneaker/internal/logging"
)

// Server exposes an engine.Engine to one JSON-RPC peer.
type Server struct {
	eng     engine.Engine
	logger  *logging.Logger
	handles map[int64]engine.Handle
	nextID  int64
}

// NewServer returns a Server for eng. A nil logger discards output.
func NewServer(eng engine.Engine, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Server{
		eng:     eng,
		logger:  logger,
		handles: make(map[int64]engine.Handle),
	}
}

// Serve is shorthand for NewServer(eng, nil).Serve(ctx, r, w).
func Serve(ctx context.Context, eng engine.Engine, r io.Reader, w io.Writer) error {
	return NewServer(eng, nil).Serve(ctx, r, w)
}

// Serve answers requests from r on w until r is exhausted or ctx is done.
// Requests are handled one at a time in arrival order. Handles the peer left
// open are closed on return.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	defer s.closeHandles()

	br := bufio.NewReader(r)
	out := &lineWriter{w: w}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := readLine(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp := s.handle(ctx, line)
		if resp == nil {
			continue
		}
		if err := out.write(resp); err != nil {
			return fmt.Errorf("rpc: failed to write response: %w", err)
		}
	}
}

func (s *Server) handle(ctx context.Context, line []byte) *response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, &rpcError{Code: CodeParseError, Message: "Parse error."})
	}
	if req.JSONRPC != protocolVersion || req.Method == "" {
		return errorResponse(req.ID, &rpcError{Code: CodeInvalidRequest, Message: "Invalid Request."})
	}

	result, rerr := s.dispatch(ctx, &req)
	if req.isNotification() {
		return nil
	}
	if rerr != nil {
		s.logger.Debug("rpc request failed", "method", req.Method, "code", rerr.Code, "error", rerr.Message)
		return errorResponse(req.ID, rerr)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, &rpcError{
			Code:    CodeInternalError,
			Message: fmt.Sprintf("failed to encode result: %v", err),
		})
	}
	return &response{JSONRPC: protocolVersion, Result: raw, ID: req.ID}
}

func (s *Server) dispatch(ctx context.Context, req *request) (any, *rpcError) {
	s.logger.Debug("rpc request", "method", req.Method)

	switch req.Method {
	case MethodOpen:
		var p pathParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		h, err := s.eng.Open(ctx, p.Path)
		if err != nil {
			return nil, toRPCError(err)
		}
		s.nextID++
		s.handles[s.nextID] = h
		return openResult{Handle: s.nextID}, nil

	case MethodCreate:
		var p pathParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.eng.Create(ctx, p.Path); err != nil {
			return nil, toRPCError(err)
		}
		return nil, nil

	case MethodInvoke:
		var p invokeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		h, rerr := s.lookup(p.Handle, p.Name)
		if rerr != nil {
			return nil, rerr
		}
		result, err := h.Invoke(ctx, p.Name, p.Args)
		if err != nil {
			return nil, toRPCError(err)
		}
		return result, nil

	case MethodClose:
		var p handleParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		h, rerr := s.lookup(p.Handle, "close")
		if rerr != nil {
			return nil, rerr
		}
		delete(s.handles, p.Handle)
		if err := h.Close(); err != nil {
			return nil, toRPCError(err)
		}
		return nil, nil

	default:
		return nil, &rpcError{Code: CodeMethodNotFound, Message: "Method not found: " + req.Method}
	}
}

func (s *Server) lookup(id int64, op string) (engine.Handle, *rpcError) {
	h, ok := s.handles[id]
	if !ok {
		return nil, toRPCError(engine.Errorf(engine.KindInvalidArguments, op, "unknown repository handle %d", id))
	}
	return h, nil
}

func (s *Server) closeHandles() {
	for id, h := range s.handles {
		if err := h.Close(); err != nil {
			s.logger.Warn("failed to close repository handle", "handle", id, "error", err.Error())
		}
		delete(s.handles, id)
	}
}

func decodeParams(raw json.RawMessage, v any) *rpcError {
	if len(raw) == 0 {
		return &rpcError{Code: CodeInvalidParams, Message: "Invalid parameters: missing params"}
	}
	if err := decodeJSON(raw, v); err != nil {
		return &rpcError{Code: CodeInvalidParams, Message: fmt.Sprintf("Invalid parameters: %v", err)}
	}
	return nil
}

func errorResponse(id json.RawMessage, e *rpcError) *response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &response{JSONRPC: protocolVersion, Error: e, ID: id}
}
