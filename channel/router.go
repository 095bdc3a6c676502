package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/jxucoder/botforge/archive"
	"github.com/jxucoder/botforge/engine"
	"github.com/jxucoder/botforge/eventbus"
	"github.com/jxucoder/botforge/model"
)

// WorkspaceProvider is the part of the engine a chat front-end needs.
type WorkspaceProvider interface {
	CreateWorkspace() (*engine.Workspace, error)
	Workspace(id string) (*engine.Workspace, error)
	Bus() eventbus.Bus
}

// Replier delivers messages to one conversation.
type Replier interface {
	Reply(text string)
	ReplyDocument(name string, data []byte, caption string)
}

// Router maps chat conversations to workspaces and runs commands against
// them. Each conversation owns one workspace.
type Router struct {
	engine WorkspaceProvider

	mu       sync.Mutex
	convs    map[string]string
	watching map[string]bool
}

// NewRouter creates a Router.
func NewRouter(eng WorkspaceProvider) *Router {
	return &Router{
		engine:   eng,
		convs:    make(map[string]string),
		watching: make(map[string]bool),
	}
}

// Handle runs one message from conversation conv. Messages that are not
// commands are ignored. Build progress for the conversation's workspace is
// relayed through r until ctx is canceled.
func (r *Router) Handle(ctx context.Context, conv, text string, reply Replier) {
	cmd, err := ParseCommand(text)
	if errors.Is(err, ErrNotCommand) {
		return
	}
	if err != nil {
		reply.Reply(err.Error())
		return
	}

	if cmd.Name == CmdHelp {
		reply.Reply(HelpText)
		return
	}

	ws, err := r.workspace(ctx, conv, reply, cmd.Name == CmdBuild)
	if err != nil {
		reply.Reply(fmt.Sprintf("Workspace unavailable: %v", err))
		return
	}
	if ws == nil {
		reply.Reply("No build yet. Start one with /build <bot token> <description>.")
		return
	}

	switch cmd.Name {
	case CmdBuild:
		if err := ws.StartBuild(cmd.Prompt, cmd.Token, cmd.Library); err != nil {
			reply.Reply(describeError(err))
			return
		}
		reply.Reply(fmt.Sprintf("Building with %s in workspace %s. I'll post progress here.", cmd.Library, ws.ID()))
	case CmdInputs:
		if err := ws.SubmitRequiredInputs(cmd.Values); err != nil {
			reply.Reply(describeError(err))
			return
		}
		reply.Reply("Additional information provided. Continuing build...")
	case CmdCancel:
		if err := ws.CancelAwaitingInput(); err != nil {
			reply.Reply(describeError(err))
			return
		}
		reply.Reply("Build cancelled.")
	case CmdReset:
		ws.ResetSession()
		reply.Reply("Workspace reset.")
	case CmdRun:
		if err := ws.StartRuntime(); err != nil {
			reply.Reply(describeError(err))
			return
		}
		reply.Reply("Bot started.")
	case CmdStop:
		ws.StopRuntime()
		reply.Reply("Bot stopped.")
	case CmdStatus:
		reply.Reply(Status(ws))
	}
}

// workspace returns the conversation's workspace, creating it when create is
// set. It returns nil without error when none exists and create is unset.
func (r *Router) workspace(ctx context.Context, conv string, reply Replier, create bool) (*engine.Workspace, error) {
	r.mu.Lock()
	id, ok := r.convs[conv]
	r.mu.Unlock()

	var ws *engine.Workspace
	if ok {
		var err error
		ws, err = r.engine.Workspace(id)
		if err != nil && !errors.Is(err, engine.ErrWorkspaceNotFound) {
			return nil, err
		}
	}
	if ws == nil {
		if !create {
			return nil, nil
		}
		var err error
		ws, err = r.engine.CreateWorkspace()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.convs[conv] = ws.ID()
		r.mu.Unlock()
	}

	r.watch(ctx, ws, reply)
	return ws, nil
}

// watch relays build events for ws once per workspace. It subscribes before
// returning so no event of a build started afterwards is missed.
func (r *Router) watch(ctx context.Context, ws *engine.Workspace, reply Replier) {
	r.mu.Lock()
	if r.watching[ws.ID()] {
		r.mu.Unlock()
		return
	}
	r.watching[ws.ID()] = true
	r.mu.Unlock()

	bus := r.engine.Bus()
	ch := bus.Subscribe(ws.ID())
	go func() {
		defer func() {
			bus.Unsubscribe(ws.ID(), ch)
			r.mu.Lock()
			delete(r.watching, ws.ID())
			r.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				r.relay(ws, ev, reply)
			}
		}
	}()
}

func (r *Router) relay(ws *engine.Workspace, ev *model.Event, reply Replier) {
	switch ev.Type {
	case model.EventState:
		switch model.BuildState(ev.Data) {
		case model.StatePlanning, model.StateCoding, model.StateDebugging:
			reply.Reply(fmt.Sprintf("State: %s", ev.Data))
		}
	case model.EventInputs:
		var inputs []model.RequiredInput
		if err := json.Unmarshal([]byte(ev.Data), &inputs); err != nil {
			log.Printf("Channel: bad inputs event for workspace %s: %v", ws.ID(), err)
			return
		}
		reply.Reply(inputsPrompt(inputs))
	case model.EventError:
		reply.Reply(fmt.Sprintf("Error: %s", ev.Data))
	case model.EventDone:
		reply.Reply(fmt.Sprintf("Bot is running successfully as %s!", ev.Data))
		data, err := archive.Bytes(ws.Files())
		if err != nil {
			log.Printf("Channel: failed to build archive for workspace %s: %v", ws.ID(), err)
			return
		}
		reply.ReplyDocument(archive.FileName, data, "Generated project")
	}
}

func inputsPrompt(inputs []model.RequiredInput) string {
	var sb strings.Builder
	sb.WriteString("This bot needs more information. Reply with /inputs KEY=value ...\n")
	for _, in := range inputs {
		req := "optional"
		if in.Required {
			req = "required"
		}
		fmt.Fprintf(&sb, "- %s (%s, %s)", in.Name, in.Label, req)
		if in.Description != "" {
			fmt.Fprintf(&sb, ": %s", in.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Or /cancel to discard the build.")
	return sb.String()
}

// Status renders a workspace summary for chat.
func Status(ws *engine.Workspace) string {
	sess := ws.Snapshot()
	rt := ws.Runtime()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Workspace %s: %s", sess.ID, sess.State)
	if sess.BotUsername != "" {
		fmt.Fprintf(&sb, "\nBot: %s", sess.BotUsername)
	}
	if sess.Error != "" {
		fmt.Fprintf(&sb, "\nError: %s", sess.Error)
	}
	if len(sess.Files) > 0 {
		names := make([]string, 0, len(sess.Files))
		for _, f := range sess.Files {
			names = append(names, f.Name)
		}
		fmt.Fprintf(&sb, "\nFiles: %s", strings.Join(names, ", "))
	}
	if rt.Running {
		fmt.Fprintf(&sb, "\nRuntime: running, %d:%02d remaining", rt.SecondsRemaining/60, rt.SecondsRemaining%60)
	} else if len(rt.Log) > 0 {
		sb.WriteString("\nRuntime: stopped")
	}
	return sb.String()
}

func describeError(err error) string {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, engine.ErrBusy):
		return "A build is already in progress. Use /reset to start over."
	case errors.Is(err, engine.ErrNotAwaitingInput):
		return "Nothing is waiting for inputs."
	case errors.Is(err, engine.ErrNotBuilt):
		return "There is no successful build to run yet."
	}
	return err.Error()
}
