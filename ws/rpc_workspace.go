package ws

import (
	"context"

	"github.com/roboleague/collab/rpc"
	"github.com/roboleague/collab/session"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleWorkspaceJoin(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.JoinParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params: "+err.Error())
		return
	}

	log := h.log.With("teamId", params.TeamID)

	// A connection belongs to one workspace at a time.
	if prev := h.state.joinedTeam(); prev != "" && prev != params.TeamID {
		if err := h.manager.Leave(ctx, prev, h.state.connID); err != nil {
			log.Warn("failed to leave previous workspace", "previous", prev, "error", err)
		}
		h.state.setTeam("")
	}

	userID, name := h.state.identity()
	self := session.Participant{ConnID: h.state.connID, UserID: userID, Name: name}

	gate := newJoinGate(conn)
	joined, err := h.manager.Join(ctx, params.TeamID, self, gate)
	if err != nil {
		h.replyManagerError(ctx, conn, req.ID, err)
		return
	}
	h.state.setTeam(params.TeamID)

	for _, p := range joined.Participants {
		if p.ConnID == self.ConnID {
			self = p
		}
	}
	result := rpc.JoinResult{
		Self:         self,
		Files:        joined.Files,
		Participants: joined.Participants,
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		log.Error("failed to send join response", "error", err)
		return
	}
	if err := gate.release(ctx); err != nil {
		log.Debug("failed to flush held notifications", "error", err)
	}

	log.Info("joined workspace", "files", len(joined.Files), "participants", len(joined.Participants), "created", joined.Created)
}

func (h *rpcMethodHandler) handleWorkspaceLeave(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	teamID := h.state.joinedTeam()
	if teamID == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "not joined to workspace")
		return
	}

	if err := h.manager.Leave(ctx, teamID, h.state.connID); err != nil {
		h.replyManagerError(ctx, conn, req.ID, err)
		return
	}
	h.state.setTeam("")
	h.log.Info("left workspace", "teamId", teamID)

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send leave response", "error", err)
	}
}

func (h *rpcMethodHandler) handleWorkspaceListSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	id, workspaces := h.workspaceList.Subscribe(conn, h.state.connID)

	result := rpc.WorkspaceListSubscribeResult{ID: id, Workspaces: workspaces}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send workspace list subscribe response", "error", err)
		h.workspaceList.Unsubscribe(id)
	}
}

func (h *rpcMethodHandler) handleWorkspaceListUnsubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.WorkspaceListUnsubscribeParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params: "+err.Error())
		return
	}

	if h.workspaceList.OwnedBy(params.ID, h.state.connID) {
		h.workspaceList.Unsubscribe(params.ID)
	}

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send workspace list unsubscribe response", "error", err)
	}
}
