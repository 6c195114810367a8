package ws

import (
	"context"

	"github.com/roboleague/collab/broadcast"
	"github.com/roboleague/collab/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

// requireTeam rejects file operations addressed to a workspace the
// connection has not joined.
func (h *rpcMethodHandler) requireTeam(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, teamID string) bool {
	if h.state.joinedTeam() != teamID {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "not joined to workspace")
		return false
	}
	return true
}

// submit applies ev and holds later notifications to this connection until
// release is called, so the reply lands at the event's place in the stream.
func (h *rpcMethodHandler) submit(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, teamID string, ev broadcast.Event) (outcome broadcast.Outcome, release func(), ok bool) {
	if !h.requireTeam(ctx, conn, req, teamID) {
		return broadcast.Outcome{}, nil, false
	}
	outcome, release, err := h.manager.SubmitHeld(ctx, teamID, h.state.connID, ev)
	if err != nil {
		defer release()
		h.replyManagerError(ctx, conn, req.ID, err)
		return broadcast.Outcome{}, nil, false
	}
	return outcome, release, true
}

func (h *rpcMethodHandler) handleFileCreate(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.CreateParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params: "+err.Error())
		return
	}

	outcome, release, ok := h.submit(ctx, conn, req, params.TeamID, broadcast.Create{
		Path:     params.Path,
		Kind:     params.Kind,
		Content:  params.Content,
		Language: params.Language,
	})
	if !ok {
		return
	}
	defer release()

	if err := conn.Reply(ctx, req.ID, rpc.CreateResult{File: outcome.Created}); err != nil {
		h.log.Error("failed to send file create response", "error", err)
	}
}

func (h *rpcMethodHandler) handleFileUpdate(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.UpdateParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params: "+err.Error())
		return
	}

	_, release, ok := h.submit(ctx, conn, req, params.TeamID, broadcast.Update{FileID: params.FileID, Content: params.Content})
	if !ok {
		return
	}
	defer release()

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send file update response", "error", err)
	}
}

func (h *rpcMethodHandler) handleFileDelete(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.DeleteParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params: "+err.Error())
		return
	}

	outcome, release, ok := h.submit(ctx, conn, req, params.TeamID, broadcast.Delete{FileID: params.FileID, Path: params.Path})
	if !ok {
		return
	}
	defer release()

	deleted := outcome.Deleted
	if deleted == nil {
		deleted = []string{}
	}
	if err := conn.Reply(ctx, req.ID, rpc.DeleteResult{Deleted: deleted}); err != nil {
		h.log.Error("failed to send file delete response", "error", err)
	}
}

func (h *rpcMethodHandler) handleFileFocus(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.FocusParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params: "+err.Error())
		return
	}

	_, release, ok := h.submit(ctx, conn, req, params.TeamID, broadcast.Focus{FileID: params.FileID})
	if !ok {
		return
	}
	defer release()

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send file focus response", "error", err)
	}
}
