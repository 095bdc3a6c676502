// Package store defines the persistence interface for workspaces, their
// events and files, and user preferences.
package store

import (
	"errors"

	"github.com/jxucoder/botforge/model"
)

// ErrNotFound is returned when a workspace does not exist.
var ErrNotFound = errors.New("not found")

// WorkspaceStore persists build workspaces and their event history.
//
// Persisted workspace rows carry the session summary only (prompt, library,
// state, error, bot username, additional data). The build log is kept as
// events and the generated project as files.
type WorkspaceStore interface {
	CreateWorkspace(ws *model.BuildSession) error
	GetWorkspace(id string) (*model.BuildSession, error)
	ListWorkspaces() ([]*model.BuildSession, error)
	UpdateWorkspace(ws *model.BuildSession) error

	AddEvent(event *model.Event) error
	GetEvents(workspaceID string, afterID int64) ([]*model.Event, error)
	DeleteEvents(workspaceID string) error

	PutFile(workspaceID string, file model.GeneratedFile) error
	ListFiles(workspaceID string) ([]model.GeneratedFile, error)
	DeleteFiles(workspaceID string) error

	GetPreferences() (*model.Preferences, error)
	SavePreferences(p *model.Preferences) error

	Close() error
}
