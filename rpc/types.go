// Package rpc defines JSON-RPC 2.0 wire format types for WebSocket communication.
// These types represent the params and result structures for all RPC methods.
package rpc

import (
	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/session"
)

// Client → Server methods
const (
	MethodAuth                     = "auth"
	MethodWorkspaceJoin            = "workspace.join"
	MethodWorkspaceLeave           = "workspace.leave"
	MethodFileCreate               = "file.create"
	MethodFileUpdate               = "file.update"
	MethodFileDelete               = "file.delete"
	MethodFileFocus                = "file.focus"
	MethodWorkspaceListSubscribe   = "workspace.list.subscribe"
	MethodWorkspaceListUnsubscribe = "workspace.list.unsubscribe"
)

// Server → Client notifications
const (
	NotifyFileCreated          = "file.created"
	NotifyFileUpdated          = "file.updated"
	NotifyFileDeleted          = "file.deleted"
	NotifyFileFocused          = "file.focused"
	NotifyParticipants         = "workspace.participants"
	NotifyWorkspaceListChanged = "workspace.list.changed"
)

// Client → Server

type AuthParams struct {
	Token string `json:"token"`
	Name  string `json:"name,omitempty"` // display name when the token carries none
}

type AuthResult struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

type JoinParams struct {
	TeamID string `json:"team_id"`
}

type JoinResult struct {
	Self         session.Participant   `json:"self"`
	Files        []files.Record        `json:"files"`
	Participants []session.Participant `json:"participants"`
}

type CreateParams struct {
	TeamID   string     `json:"team_id"`
	Path     string     `json:"path"`
	Kind     files.Kind `json:"kind"`
	Content  string     `json:"content,omitempty"`
	Language string     `json:"language,omitempty"`
}

// CreateResult omits File when the path was empty and nothing was created.
type CreateResult struct {
	File *files.Record `json:"file,omitempty"`
}

type UpdateParams struct {
	TeamID  string `json:"team_id"`
	FileID  string `json:"file_id"`
	Content string `json:"content"`
}

// DeleteParams addresses a record by id, or a folder (explicit or implied) by path.
type DeleteParams struct {
	TeamID string `json:"team_id"`
	FileID string `json:"file_id,omitempty"`
	Path   string `json:"path,omitempty"`
}

type DeleteResult struct {
	Deleted []string `json:"deleted"`
}

type FocusParams struct {
	TeamID string `json:"team_id"`
	FileID string `json:"file_id"`
}

type WorkspaceListSubscribeResult struct {
	ID         string            `json:"id"`
	Workspaces []session.Summary `json:"workspaces"`
}

type WorkspaceListUnsubscribeParams struct {
	ID string `json:"id"`
}

// Server → Client

type FileCreatedParams struct {
	TeamID string       `json:"team_id"`
	File   files.Record `json:"file"`
	By     string       `json:"by"`
}

type FileUpdatedParams struct {
	TeamID  string `json:"team_id"`
	FileID  string `json:"file_id"`
	Content string `json:"content"`
	By      string `json:"by"`
}

type FileDeletedParams struct {
	TeamID  string   `json:"team_id"`
	FileIDs []string `json:"file_ids"`
	By      string   `json:"by"`
}

type FileFocusedParams struct {
	TeamID      string              `json:"team_id"`
	FileID      string              `json:"file_id"`
	Participant session.Participant `json:"participant"`
}

type ParticipantsParams struct {
	TeamID       string                `json:"team_id"`
	Participants []session.Participant `json:"participants"`
}

// WorkspaceListChangedParams carries one change. Operation is "created",
// "updated" (participant count) or "removed".
type WorkspaceListChangedParams struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Workspace session.Summary `json:"workspace"`
}
