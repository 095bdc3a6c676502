package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrBusy is returned when a build is already in flight.
	ErrBusy = errors.New("a build is already in progress")
	// ErrNotAwaitingInput is returned by the negotiation entry points when
	// no build is suspended.
	ErrNotAwaitingInput = errors.New("workspace is not waiting for required inputs")
	// ErrWorkspaceNotFound is returned for unknown workspace IDs.
	ErrWorkspaceNotFound = errors.New("workspace not found")
	// ErrNotBuilt is returned when an operation needs a successful build.
	ErrNotBuilt = errors.New("workspace has no successful build")
	// ErrExportDisabled is returned when no publisher is configured.
	ErrExportDisabled = errors.New("export is not configured")
)

// ValidationError reports bad user input detected before any generation call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

var tokenPattern = regexp.MustCompile(`^\d{8,10}:[A-Za-z0-9_-]{35}$`)

// ValidToken reports whether token has the Telegram bot token format.
func ValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}

func validateRequest(prompt, token string) *ValidationError {
	if strings.TrimSpace(prompt) == "" || token == "" {
		return &ValidationError{Field: "request", Message: "Please provide a bot description and a Telegram token."}
	}
	if !ValidToken(token) {
		return &ValidationError{
			Field:   "token",
			Message: `Invalid Telegram token format. It should look like "123456789:ABC-DeFGHIJkl-mnoPQRst-UVWXYZ0123".`,
		}
	}
	return nil
}
