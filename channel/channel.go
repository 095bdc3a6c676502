// Package channel defines chat front-ends for BotForge and the command
// grammar they share.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jxucoder/botforge/model"
)

// Channel is a front-end that runs until ctx is canceled.
type Channel interface {
	Name() string
	Run(ctx context.Context) error
}

// Command names.
const (
	CmdBuild  = "build"
	CmdInputs = "inputs"
	CmdCancel = "cancel"
	CmdReset  = "reset"
	CmdRun    = "run"
	CmdStop   = "stop"
	CmdStatus = "status"
	CmdHelp   = "help"
)

// Command is one parsed chat command.
type Command struct {
	Name    string
	Library model.Library
	Token   string
	Prompt  string
	Values  map[string]string
}

// ErrNotCommand is returned for text that does not start with a command.
var ErrNotCommand = errors.New("not a command")

// HelpText describes the command grammar.
const HelpText = `BotForge builds a Python Telegram bot from a description.

Commands:
/build [--library name] <bot token> <description>
/inputs KEY=value [KEY=value ...]
/cancel - discard a build waiting for inputs
/reset - clear this chat's workspace
/run - start the simulated bot
/stop - stop the simulated bot
/status - show build and runtime state
/help - show this message

Libraries: python-telegram-bot (default), aiogram, pyTelegramBotAPI.`

// ParseCommand parses a chat message. A leading slash is optional, and a
// Telegram "@botname" suffix on the command word is ignored.
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return Command{}, ErrNotCommand
	}

	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	args := fields[1:]

	switch name {
	case CmdBuild:
		return parseBuild(text, args)
	case CmdInputs:
		return parseInputs(args)
	case CmdCancel, CmdReset, CmdRun, CmdStop, CmdStatus, CmdHelp:
		return Command{Name: name}, nil
	case "start":
		return Command{Name: CmdHelp}, nil
	}
	return Command{}, ErrNotCommand
}

func parseBuild(text string, args []string) (Command, error) {
	cmd := Command{Name: CmdBuild, Library: model.DefaultLibrary}

	if len(args) > 0 && (args[0] == "--library" || args[0] == "-l") {
		if len(args) < 2 {
			return Command{}, fmt.Errorf("--library needs a value")
		}
		lib, err := model.ParseLibrary(args[1])
		if err != nil {
			return Command{}, err
		}
		cmd.Library = lib
		args = args[2:]
	}
	if len(args) < 2 {
		return Command{}, fmt.Errorf("usage: /build [--library name] <bot token> <description>")
	}
	cmd.Token = args[0]

	// Keep the description's original spacing and line breaks.
	idx := strings.Index(text, cmd.Token)
	cmd.Prompt = strings.TrimSpace(text[idx+len(cmd.Token):])
	return cmd, nil
}

func parseInputs(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, fmt.Errorf("usage: /inputs KEY=value [KEY=value ...]")
	}
	values := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return Command{}, fmt.Errorf("expected KEY=value, got %q", arg)
		}
		values[key] = value
	}
	return Command{Name: CmdInputs, Values: values}, nil
}
