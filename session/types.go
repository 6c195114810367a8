package session

import "time"

// Participant is one connected client attached to a team workspace.
type Participant struct {
	ConnID        string    `json:"conn_id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	FocusedFileID string    `json:"focused_file_id,omitempty"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Summary describes a live session for workspace listings.
type Summary struct {
	TeamID       string    `json:"team_id"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Operation is how a session's entry in the workspace list changed.
type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
	OperationRemoved Operation = "removed"
)

// ChangeEvent describes a membership change of one session. Presence changes
// such as focus do not alter the list and raise no event.
type ChangeEvent struct {
	Op      Operation
	Session Summary
}

// OnChangeListener receives session changes. It is called with the registry
// lock held and must not block.
type OnChangeListener interface {
	OnSessionChange(event ChangeEvent)
}
