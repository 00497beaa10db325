// Package rpc exposes the internal publishing API over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/service"
)

// ServiceName is the name methods are registered under, as in "Setup.Append".
const ServiceName = "Setup"

// Server exposes internal RPC endpoints for agents and other internal clients.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
	logCtx    context.Context
}

// NewServer creates a new RPC server bound to the setup service.
func NewServer(logCtx context.Context, svc *service.Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc, ctx: logCtx}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
		logCtx:    logCtx,
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			log.Error(s.logCtx, err, log.KV{K: "msg", V: "rpc accept error"})
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the setup RPC methods.
type Handler struct {
	service *service.Service
	ctx     context.Context
}

// AppendArgs identifies the run and the output to publish.
type AppendArgs struct {
	RunID   string                  `json:"run_id"`
	Request domain.AppendLogRequest `json:"request"`
}

// GetWorkspaceArgs identifies a workspace.
type GetWorkspaceArgs struct {
	WorkspaceID string `json:"workspace_id"`
}

// Append publishes agent output into a run log.
func (h *Handler) Append(req *AppendArgs, resp *domain.AppendLogResponse) error {
	if req == nil {
		return errors.New("append request is required")
	}
	if req.RunID == "" {
		return errors.New("run_id is required")
	}

	result, err := h.service.AppendLog(h.context(), req.RunID, req.Request)
	if err != nil {
		return err
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// GetWorkspace returns a workspace and its active run.
func (h *Handler) GetWorkspace(req *GetWorkspaceArgs, resp *domain.WorkspaceResponse) error {
	if req == nil || req.WorkspaceID == "" {
		return errors.New("workspace_id is required")
	}

	result, err := h.service.GetWorkspace(h.context(), req.WorkspaceID)
	if err != nil {
		return err
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

func (h *Handler) context() context.Context {
	if h.ctx != nil {
		return h.ctx
	}
	return context.Background()
}
