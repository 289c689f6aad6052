// Package rpc implements the server half of the framed stdio protocol: a
// read-dispatch-respond loop that agent and tool processes run over their
// stdin/stdout. Handlers are registered per method; the initialize handshake
// is answered by the server itself.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"sceneloop/internal/protocol"
)

// Handler processes one request's params and returns a result payload or a
// *protocol.Error. Any other error is reported to the peer as CodeInternal.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server dispatches framed requests to registered handlers.
type Server struct {
	name         string
	capabilities []string
	logger       *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewServer creates a server that answers the handshake with the given name
// and capability list.
func NewServer(name string, capabilities []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		name:         name,
		capabilities: capabilities,
		logger:       logger,
		handlers:     make(map[string]Handler),
	}
}

// Handle registers a handler for a method, replacing any previous one.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Serve reads frames from r and writes responses to w until EOF or context
// cancellation. Requests are served strictly in order; the peer holds at
// most one in flight.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("unparseable frame", zap.Error(err))
			if werr := s.write(w, protocol.NewError(0, protocol.CodeParseError, "unparseable frame")); werr != nil {
				return werr
			}
			continue
		}

		resp := s.dispatch(ctx, &req)
		if err := s.write(w, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *protocol.Request) protocol.Response {
	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(req)
	case protocol.MethodPing:
		resp, _ := protocol.NewResult(req.ID, map[string]string{"status": "ok"})
		return resp
	}

	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method))
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		if perr, ok := err.(*protocol.Error); ok {
			return protocol.Response{JSONRPC: protocol.Version, ID: req.ID, Error: perr}
		}
		s.logger.Error("handler failed", zap.String("method", req.Method), zap.Error(err))
		return protocol.NewError(req.ID, protocol.CodeInternal, err.Error())
	}

	resp, err := protocol.NewResult(req.ID, result)
	if err != nil {
		return protocol.NewError(req.ID, protocol.CodeInternal, "unmarshalable result")
	}
	return resp
}

func (s *Server) handleInitialize(req *protocol.Request) protocol.Response {
	var params protocol.InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, "bad initialize params")
	}
	if params.ProtocolVersion != protocol.ProtocolVersion {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams,
			fmt.Sprintf("unsupported protocol version %q", params.ProtocolVersion))
	}
	resp, _ := protocol.NewResult(req.ID, protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerName:      s.name,
		Capabilities:    s.capabilities,
	})
	return resp
}

func (s *Server) write(w io.Writer, resp protocol.Response) error {
	frame, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if _, err := w.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
