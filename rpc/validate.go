package rpc

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/roboleague/collab/files"
)

const (
	MaxTeamIDLength = 128
	MaxFileIDLength = 64
	MaxPathLength   = 1024
	// MaxContentLength is in bytes. Half of MaxMessageSize leaves room for
	// the JSON envelope and escaping, so a valid update always fits a message.
	MaxContentLength = MaxMessageSize / 2
)

// contentSize limits file content by encoded size rather than rune count.
var contentSize = validation.By(func(value any) error {
	if s, _ := value.(string); len(s) > MaxContentLength {
		return fmt.Errorf("must be at most %d bytes", MaxContentLength)
	}
	return nil
})

func (p AuthParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Token, validation.Required),
		validation.Field(&p.Name, validation.Length(0, 100)),
	)
}

func (p JoinParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.TeamID, validation.Required, validation.Length(1, MaxTeamIDLength)),
	)
}

// Validate checks structure only. An empty path is accepted here and ignored
// by the store, so clients never see it as an error.
func (p CreateParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.TeamID, validation.Required, validation.Length(1, MaxTeamIDLength)),
		validation.Field(&p.Path, validation.Length(0, MaxPathLength)),
		validation.Field(&p.Kind, validation.In(files.KindFile, files.KindFolder)),
		validation.Field(&p.Content, contentSize),
		validation.Field(&p.Language, validation.Length(0, 32)),
	)
}

func (p UpdateParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.TeamID, validation.Required, validation.Length(1, MaxTeamIDLength)),
		validation.Field(&p.FileID, validation.Required, validation.Length(1, MaxFileIDLength)),
		validation.Field(&p.Content, contentSize),
	)
}

func (p DeleteParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.TeamID, validation.Required, validation.Length(1, MaxTeamIDLength)),
		validation.Field(&p.FileID, validation.When(p.Path == "", validation.Required), validation.Length(0, MaxFileIDLength)),
		validation.Field(&p.Path, validation.Length(0, MaxPathLength)),
	)
}

func (p FocusParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.TeamID, validation.Required, validation.Length(1, MaxTeamIDLength)),
		validation.Field(&p.FileID, validation.Length(0, MaxFileIDLength)),
	)
}

func (p WorkspaceListUnsubscribeParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
	)
}
