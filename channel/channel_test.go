package channel

import (
	"errors"
	"testing"

	"github.com/jxucoder/botforge/model"
)

const validToken = "123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZ012345abc"

func TestParseBuild(t *testing.T) {
	cmd, err := ParseCommand("/build " + validToken + " A quiz bot\nwith scores")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Name != CmdBuild || cmd.Token != validToken || cmd.Library != model.LibraryPTB {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.Prompt != "A quiz bot\nwith scores" {
		t.Fatalf("expected description with line break, got %q", cmd.Prompt)
	}
}

func TestParseBuildWithLibrary(t *testing.T) {
	cmd, err := ParseCommand("/build@BotForgeBot --library aiogram " + validToken + " echo bot")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Library != model.LibraryAiogram || cmd.Prompt != "echo bot" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if _, err := ParseCommand("/build --library discord.py " + validToken + " echo"); err == nil {
		t.Fatal("expected unknown library error")
	}
	if _, err := ParseCommand("/build --library"); err == nil {
		t.Fatal("expected missing value error")
	}
	if _, err := ParseCommand("/build " + validToken); err == nil {
		t.Fatal("expected usage error without description")
	}
}

func TestParseInputs(t *testing.T) {
	cmd, err := ParseCommand("inputs API_KEY=abc=def CITY=Berlin")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Name != CmdInputs || cmd.Values["API_KEY"] != "abc=def" || cmd.Values["CITY"] != "Berlin" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if _, err := ParseCommand("/inputs"); err == nil {
		t.Fatal("expected usage error")
	}
	if _, err := ParseCommand("/inputs novalue"); err == nil {
		t.Fatal("expected KEY=value error")
	}
}

func TestParseSimpleCommands(t *testing.T) {
	tests := map[string]string{
		"/cancel":         CmdCancel,
		"/reset":          CmdReset,
		"/RUN":            CmdRun,
		"/stop":           CmdStop,
		"status":          CmdStatus,
		"/help":           CmdHelp,
		"/start":          CmdHelp,
		"/status@SomeBot": CmdStatus,
	}
	for text, want := range tests {
		cmd, err := ParseCommand(text)
		if err != nil {
			t.Fatalf("%q: %v", text, err)
		}
		if cmd.Name != want {
			t.Fatalf("%q: expected %s, got %s", text, want, cmd.Name)
		}
	}
}

func TestParseNotCommand(t *testing.T) {
	for _, text := range []string{"", "   ", "hello there", "/deploy now"} {
		if _, err := ParseCommand(text); !errors.Is(err, ErrNotCommand) {
			t.Fatalf("%q: expected ErrNotCommand, got %v", text, err)
		}
	}
}
