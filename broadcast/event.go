package broadcast

import (
	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/session"
)

// Event is one participant action addressed to a session.
// The set of variants is closed: Create, Update, Delete and Focus.
type Event interface {
	Type() string
	isEvent()
}

type Create struct {
	Path     string
	Kind     files.Kind
	Content  string
	Language string
}

type Update struct {
	FileID  string
	Content string
}

// Delete removes FileID, or every record at or below Path when FileID is empty.
type Delete struct {
	FileID string
	Path   string
}

// Focus only changes presence; the file set is untouched.
type Focus struct {
	FileID string
}

func (Create) Type() string { return "create" }
func (Update) Type() string { return "update" }
func (Delete) Type() string { return "delete" }
func (Focus) Type() string  { return "focus" }

func (Create) isEvent() {}
func (Update) isEvent() {}
func (Delete) isEvent() {}
func (Focus) isEvent()  {}

// Outcome reports what an event changed. Applied is false for no-ops
// (empty path, unknown id), which are relayed to nobody.
type Outcome struct {
	Applied bool
	Created *files.Record
	Updated *files.Record
	Deleted []string
	Focused *session.Participant
}

// JoinResult is the state handed to a joining participant.
type JoinResult struct {
	Files        []files.Record
	Participants []session.Participant
	Created      bool // this join started the session
}
