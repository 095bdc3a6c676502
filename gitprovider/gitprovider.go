// Package gitprovider defines how generated projects are published to a
// hosted git service.
package gitprovider

import (
	"context"

	"github.com/jxucoder/botforge/model"
)

// PublishOptions configures a project export.
type PublishOptions struct {
	// Repo is "name" for the authenticated user or "owner/name" for an
	// organization.
	Repo        string
	Private     bool
	Description string
	Files       []model.GeneratedFile
}

// Publisher creates a repository holding a generated project.
type Publisher interface {
	// Publish creates the repository, commits every file in order, and
	// returns the repository URL.
	Publish(ctx context.Context, opts PublishOptions) (string, error)
}
