// Package model defines the core domain types shared across all BotForge packages.
// It has zero dependencies on other BotForge packages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// BuildState represents the current phase of a build session.
type BuildState string

const (
	StateIdle          BuildState = "IDLE"
	StateAwaitingInput BuildState = "AWAITING_INPUT"
	StatePlanning      BuildState = "PLANNING"
	StateCoding        BuildState = "CODING"
	StateBuilding      BuildState = "BUILDING"
	StateRunning       BuildState = "RUNNING"
	StateDebugging     BuildState = "DEBUGGING"
	StateSuccess       BuildState = "SUCCESS"
	StateError         BuildState = "ERROR"
)

// Terminal reports whether the state ends a build attempt.
func (s BuildState) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// Busy reports whether a build attempt is in flight (including a build
// suspended while waiting for required inputs).
func (s BuildState) Busy() bool {
	return s != StateIdle && !s.Terminal()
}

// Library is the Python framework the generated bot targets.
type Library string

const (
	LibraryPTB     Library = "python-telegram-bot"
	LibraryAiogram Library = "aiogram"
	LibraryTelebot Library = "pyTelegramBotAPI"
)

// DefaultLibrary is used when no library is chosen.
const DefaultLibrary = LibraryPTB

// Libraries lists every supported library in display order.
var Libraries = []Library{LibraryPTB, LibraryAiogram, LibraryTelebot}

// ParseLibrary resolves a library name. An empty name yields DefaultLibrary.
func ParseLibrary(name string) (Library, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultLibrary, nil
	}
	for _, l := range Libraries {
		if strings.EqualFold(name, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown library %q", name)
}

// LogKind classifies a log entry for display.
type LogKind string

const (
	LogInfo    LogKind = "INFO"
	LogSuccess LogKind = "SUCCESS"
	LogCommand LogKind = "COMMAND"
	LogError   LogKind = "ERROR"
)

// LogEntry is a single line of build or runtime output.
type LogEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Kind      LogKind   `json:"kind"`
}

// NewLogEntry stamps a log entry with the current time.
func NewLogEntry(kind LogKind, message string) LogEntry {
	return LogEntry{Message: message, Timestamp: time.Now().UTC(), Kind: kind}
}

// GeneratedFile is one file of the generated bot project.
type GeneratedFile struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// InputKind controls how a required input is collected.
type InputKind string

const (
	InputText     InputKind = "text"
	InputPassword InputKind = "password"
)

// RequiredInput describes an extra configuration value the planned bot needs.
type RequiredInput struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Kind        InputKind `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
}

// BuildSession is a point-in-time view of one build attempt.
type BuildSession struct {
	ID             string            `json:"id"`
	Epoch          uint64            `json:"epoch"`
	Prompt         string            `json:"prompt"`
	Library        Library           `json:"library"`
	Token          string            `json:"-"`
	AdditionalData map[string]string `json:"additional_data,omitempty"`
	State          BuildState        `json:"state"`
	Log            []LogEntry        `json:"log"`
	Files          []GeneratedFile   `json:"files"`
	Error          string            `json:"error,omitempty"`
	BotUsername    string            `json:"bot_username,omitempty"`
	RequiredInputs []RequiredInput   `json:"required_inputs,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// RuntimeStatus is a point-in-time view of the simulated bot process.
type RuntimeStatus struct {
	Running          bool       `json:"is_running"`
	SecondsRemaining int        `json:"seconds_remaining"`
	Log              []LogEntry `json:"log"`
}

// Event types published on the bus and persisted per workspace.
const (
	EventState   = "state"
	EventLog     = "log"
	EventRuntime = "runtime"
	EventFile    = "file"
	EventInputs  = "inputs"
	EventError   = "error"
	EventDone    = "done"
)

// Event represents a single event in a workspace's lifecycle.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Theme is the persisted UI theme preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool { return t == ThemeLight || t == ThemeDark }

// Preferences are the persisted user preferences.
type Preferences struct {
	Theme     Theme  `json:"theme"`
	LastToken string `json:"last_token,omitempty"`
}

// DefaultPreferences are used before anything has been saved.
func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeDark}
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// MaskToken hides all but the bot ID prefix and the last four characters of
// a bot token.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	idx := strings.Index(token, ":")
	if idx < 0 || len(token)-idx-1 <= 4 {
		return strings.Repeat("*", len([]rune(token)))
	}
	return token[:idx+1] + strings.Repeat("*", len(token)-idx-5) + token[len(token)-4:]
}
