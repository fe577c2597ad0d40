package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sneaker-boar/sneaker/internal/engine"
	sneakerrors "github.com/sneaker-boar/sneaker/internal/errors"
	"github.com/sneaker-boar/sneaker/internal/logging"
)

// Option configures a client Engine.
type Option func(*Engine)

// WithLogger sets the logger for transport events.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStderr redirects the engine subprocess stderr. Defaults to os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(e *Engine) {
		e.stderr = w
	}
}

// Engine is an engine.Engine that forwards every call to a remote peer.
type Engine struct {
	out    *lineWriter
	in     io.Closer
	stdin  io.Closer
	cmd    *exec.Cmd
	stderr io.Writer
	logger *logging.Logger

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan *response
	done    chan struct{}
	readErr error

	closeOnce sync.Once
	closeErr  error
}

var _ engine.Engine = (*Engine)(nil)

// Start spawns the engine process described by argv and speaks JSON-RPC over
// its stdin and stdout. The process lives until Close.
func Start(ctx context.Context, argv []string, opts ...Option) (*Engine, error) {
	if len(argv) == 0 {
		return nil, errors.New("rpc: engine command is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := newEngine(opts...)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = e.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("rpc: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("rpc: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("rpc: failed to start engine %q: %w", argv[0], err)
	}

	e.cmd = cmd
	e.attach(stdout, stdin)
	e.logger.Info("engine process started", "command", argv[0], "pid", cmd.Process.Pid)
	return e, nil
}

// NewClient speaks JSON-RPC over an existing connection: requests go to w
// and responses are read from r. Close closes both.
func NewClient(r io.ReadCloser, w io.WriteCloser, opts ...Option) *Engine {
	e := newEngine(opts...)
	e.attach(r, w)
	return e
}

func newEngine(opts ...Option) *Engine {
	e := &Engine{
		stderr:  os.Stderr,
		logger:  logging.NopLogger(),
		pending: make(map[int64]chan *response),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) attach(r io.ReadCloser, w io.WriteCloser) {
	e.out = &lineWriter{w: w}
	e.in = r
	e.stdin = w
	go e.readLoop(r)
}

// readLoop routes responses to their waiting callers until the stream ends.
func (e *Engine) readLoop(r io.Reader) {
	br := bufio.NewReader(r)
	var loopErr error
	for {
		line, err := readLine(br)
		if err != nil {
			loopErr = err
			break
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			e.logger.Warn("discarding malformed engine response", "error", err.Error())
			continue
		}
		id, err := strconv.ParseInt(string(resp.ID), 10, 64)
		if err != nil {
			e.logger.Warn("discarding engine response without numeric id", "id", string(resp.ID))
			continue
		}

		e.mu.Lock()
		ch, ok := e.pending[id]
		delete(e.pending, id)
		e.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	e.mu.Lock()
	if errors.Is(loopErr, io.EOF) {
		loopErr = errors.New("engine connection closed")
	}
	e.readErr = loopErr
	e.mu.Unlock()
	close(e.done)
}

// call sends one request and waits for its response or for ctx.
func (e *Engine) call(ctx context.Context, method string, params, result any) error {
	return e.callAbandonable(ctx, method, params, result, nil)
}

// callAbandonable is call with a hook for replies that arrive after ctx
// ended. A non-nil late is run with such a reply; otherwise it is dropped.
func (e *Engine) callAbandonable(ctx context.Context, method string, params, result any, late func(*response)) error {
	id := e.nextID.Add(1)
	raw, err := json.Marshal(params)
	if err != nil {
		return engine.Errorf(engine.KindInvalidArguments, method, "failed to encode params: %v", err)
	}

	ch := make(chan *response, 1)
	e.mu.Lock()
	if e.readErr != nil {
		err := e.readErr
		e.mu.Unlock()
		return engine.Errorf(engine.KindTransport, method, "%v", err)
	}
	e.pending[id] = ch
	e.mu.Unlock()

	req := request{
		JSONRPC: protocolVersion,
		Method:  method,
		Params:  raw,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
	}
	if err := e.out.write(req); err != nil {
		e.forget(id)
		return engine.Errorf(engine.KindTransport, method, "failed to send request: %v", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error.toEngineError(method)
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := decodeJSON(resp.Result, result); err != nil {
			return engine.Errorf(engine.KindTransport, method, "failed to decode result: %v", err)
		}
		return nil
	case <-e.done:
		e.forget(id)
		e.mu.Lock()
		err := e.readErr
		e.mu.Unlock()
		return engine.Errorf(engine.KindTransport, method, "%v", err)
	case <-ctx.Done():
		if late == nil {
			e.forget(id)
		} else {
			go e.awaitLate(id, ch, late)
		}
		return fmt.Errorf("%s: %w: %w", method, sneakerrors.ErrCanceled, ctx.Err())
	}
}

// awaitLate keeps waiting for the reply to an abandoned request.
func (e *Engine) awaitLate(id int64, ch chan *response, late func(*response)) {
	select {
	case resp := <-ch:
		late(resp)
	case <-e.done:
		e.forget(id)
	}
}

func (e *Engine) forget(id int64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// Open asks the peer for a handle to the repository at path.
func (e *Engine) Open(ctx context.Context, path string) (engine.Handle, error) {
	var res openResult
	err := e.callAbandonable(ctx, MethodOpen, pathParams{Path: path}, &res, func(resp *response) {
		e.closeAbandoned(path, resp)
	})
	if err != nil {
		return nil, err
	}
	return &remoteHandle{engine: e, id: res.Handle, path: path}, nil
}

// closeAbandoned releases a handle the peer opened after the caller gave up,
// so the repository lock it holds does not outlive the request.
func (e *Engine) closeAbandoned(path string, resp *response) {
	if resp.Error != nil {
		return
	}
	var res openResult
	if err := decodeJSON(resp.Result, &res); err != nil {
		e.logger.Warn("undecodable reply to abandoned open", "path", path, "error", err.Error())
		return
	}
	if err := e.call(context.Background(), MethodClose, handleParams{Handle: res.Handle}, nil); err != nil {
		e.logger.Warn("failed to close abandoned handle", "path", path, "handle", res.Handle, "error", err.Error())
		return
	}
	e.logger.Debug("closed abandoned handle", "path", path, "handle", res.Handle)
}

// Create asks the peer to initialize a repository at path.
func (e *Engine) Create(ctx context.Context, path string) error {
	return e.call(ctx, MethodCreate, pathParams{Path: path}, nil)
}

// Close ends the connection and, for spawned engines, waits for the process
// to exit. Closing stdin is the shutdown signal.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		var errs []error
		if err := e.stdin.Close(); err != nil {
			errs = append(errs, err)
		}
		if e.cmd != nil {
			// Wait closes stdout, so drain it first.
			<-e.done
			if err := e.cmd.Wait(); err != nil {
				errs = append(errs, fmt.Errorf("engine process: %w", err))
			}
			e.logger.Info("engine process stopped")
		} else {
			if err := e.in.Close(); err != nil {
				errs = append(errs, err)
			}
			<-e.done
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

// remoteHandle is a repository opened on the peer.
type remoteHandle struct {
	engine *Engine
	id     int64
	path   string
	closed atomic.Bool
}

func (h *remoteHandle) Path() string {
	return h.path
}

func (h *remoteHandle) Invoke(ctx context.Context, name string, args []any) (any, error) {
	if h.closed.Load() {
		return nil, engine.Errorf(engine.KindInternal, name, "repository handle is closed")
	}
	if args == nil {
		args = []any{}
	}
	var result any
	err := h.engine.call(ctx, MethodInvoke, invokeParams{Handle: h.id, Name: name, Args: args}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *remoteHandle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.engine.call(context.Background(), MethodClose, handleParams{Handle: h.id}, nil)
}
