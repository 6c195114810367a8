package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/roboleague/collab/auth"
	"github.com/roboleague/collab/broadcast"
	"github.com/roboleague/collab/metrics"
	"github.com/roboleague/collab/rpc"
	"github.com/roboleague/collab/watch"
	"github.com/sourcegraph/jsonrpc2"
)

const cleanupTimeout = 10 * time.Second

// RPCHandler handles JSON-RPC 2.0 over WebSocket.
type RPCHandler struct {
	verifier       auth.Verifier
	version        string
	devMode        bool
	originPatterns []string
	manager        *broadcast.Manager
	workspaceList  *watch.WorkspaceListWatcher
}

// NewRPCHandler creates a new JSON-RPC handler.
func NewRPCHandler(verifier auth.Verifier, version string, devMode bool, manager *broadcast.Manager, workspaceList *watch.WorkspaceListWatcher) *RPCHandler {
	return &RPCHandler{
		verifier:      verifier,
		version:       version,
		devMode:       devMode,
		manager:       manager,
		workspaceList: workspaceList,
	}
}

// SetOriginPatterns allows cross-origin websocket upgrades from the given hosts.
func (h *RPCHandler) SetOriginPatterns(patterns []string) {
	h.originPatterns = patterns
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
		OriginPatterns:     h.originPatterns,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	h.handleConnection(r.Context(), conn)
}

func (h *RPCHandler) handleConnection(ctx context.Context, wsConn *websocket.Conn) {
	connID := uuid.Must(uuid.NewV7()).String()
	log := slog.With("connId", connID)
	log.Info("new websocket connection")
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	state := &rpcConnState{connID: connID}
	handler := &rpcMethodHandler{
		RPCHandler: h,
		state:      state,
		log:        log,
	}

	// Requests are handled one at a time on the read loop, which keeps each
	// connection's events in the order it sent them.
	rpcConn := jsonrpc2.NewConn(ctx, rpc.NewWebSocketStream(wsConn), handler)
	<-rpcConn.DisconnectNotify()

	h.cleanup(state, log)
	log.Info("connection closed")
}

// cleanup leaves the joined workspace and drops list subscriptions.
func (h *RPCHandler) cleanup(state *rpcConnState, log *slog.Logger) {
	h.workspaceList.CleanupConnection(state.connID)

	teamID := state.joinedTeam()
	if teamID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := h.manager.Leave(ctx, teamID, state.connID); err != nil && !errors.Is(err, broadcast.ErrNotJoined) {
		log.Warn("failed to leave workspace on disconnect", "teamId", teamID, "error", err)
	}
}

// rpcConnState tracks per-connection state.
type rpcConnState struct {
	connID string

	mu            sync.Mutex
	authenticated bool
	userID        string
	name          string
	teamID        string
}

func (s *rpcConnState) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *rpcConnState) setIdentity(userID, name string) {
	s.mu.Lock()
	s.authenticated = true
	s.userID = userID
	s.name = name
	s.mu.Unlock()
}

func (s *rpcConnState) identity() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.name
}

func (s *rpcConnState) joinedTeam() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teamID
}

func (s *rpcConnState) setTeam(teamID string) {
	s.mu.Lock()
	s.teamID = teamID
	s.mu.Unlock()
}

// rpcMethodHandler handles JSON-RPC method calls.
type rpcMethodHandler struct {
	*RPCHandler
	state *rpcConnState
	log   *slog.Logger
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.log.Debug("received request", "method", req.Method, "id", req.ID)

	// Auth must be the first request
	if !h.state.isAuthenticated() {
		if req.Method != rpc.MethodAuth {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "first request must be auth")
			conn.Close()
			return
		}
		h.handleAuth(ctx, conn, req)
		return
	}

	switch req.Method {
	case rpc.MethodWorkspaceJoin:
		h.handleWorkspaceJoin(ctx, conn, req)
	case rpc.MethodWorkspaceLeave:
		h.handleWorkspaceLeave(ctx, conn, req)
	case rpc.MethodWorkspaceListSubscribe:
		h.handleWorkspaceListSubscribe(ctx, conn, req)
	case rpc.MethodWorkspaceListUnsubscribe:
		h.handleWorkspaceListUnsubscribe(ctx, conn, req)
	case rpc.MethodFileCreate:
		h.handleFileCreate(ctx, conn, req)
	case rpc.MethodFileUpdate:
		h.handleFileUpdate(ctx, conn, req)
	case rpc.MethodFileDelete:
		h.handleFileDelete(ctx, conn, req)
	case rpc.MethodFileFocus:
		h.handleFileFocus(ctx, conn, req)
	default:
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *rpcMethodHandler) handleAuth(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AuthParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		conn.Close()
		return
	}

	id, err := h.verifier.Verify(ctx, params.Token)
	metrics.RecordAuthAttempt(err == nil)
	if err != nil {
		h.log.Warn("invalid auth token")
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "invalid token")
		conn.Close()
		return
	}

	userID, name := id.UserID, id.Name
	if userID == "" {
		userID = "guest-" + h.state.connID[len(h.state.connID)-8:]
	}
	if name == "" {
		name = params.Name
	}
	if name == "" {
		name = "Guest"
	}
	h.state.setIdentity(userID, name)
	h.log.Info("authenticated", "userId", userID)

	result := rpc.AuthResult{UserID: userID, Name: name, Version: h.version}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send auth response", "error", err)
	}
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

// replyManagerError maps broadcaster failures onto JSON-RPC errors.
func (h *rpcMethodHandler) replyManagerError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, err error) {
	switch {
	case errors.Is(err, broadcast.ErrNotJoined):
		h.replyError(ctx, conn, id, jsonrpc2.CodeInvalidRequest, "not joined to workspace")
	case errors.Is(err, broadcast.ErrShutdown):
		h.replyError(ctx, conn, id, jsonrpc2.CodeInternalError, "server shutting down")
	default:
		h.log.Error("workspace operation failed", "error", err)
		h.replyError(ctx, conn, id, jsonrpc2.CodeInternalError, "internal error")
	}
}

type validatable interface {
	Validate() error
}

// unmarshalParams decodes and validates request params.
func unmarshalParams(req *jsonrpc2.Request, v validatable) error {
	if req.Params == nil {
		return errors.New("params required")
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return err
	}
	return v.Validate()
}
