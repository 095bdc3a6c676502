package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jxucoder/botforge/archive"
	"github.com/jxucoder/botforge/model"
)

var (
	buildToken   string
	buildLibrary string
	buildOutput  string
	buildNoSave  bool
)

var buildCmd = &cobra.Command{
	Use:   "build [description]",
	Short: "Build a Telegram bot from a description",
	Long: `Create a workspace and build a Python Telegram bot from a plain-language
description. Progress is streamed until the bot runs. If the bot needs extra
values (API keys, channel IDs) you are prompted for them.

Example:
  botforge build "reply with the weather for any city" --token 123456:ABC...
  botforge build "a quiz bot" --token $BOT_TOKEN --library aiogram`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildToken, "token", "t", os.Getenv("BOTFORGE_BOT_TOKEN"), "Telegram bot token from @BotFather")
	buildCmd.Flags().StringVarP(&buildLibrary, "library", "l", string(model.DefaultLibrary), "bot library (python-telegram-bot, aiogram, pyTelegramBotAPI)")
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", archive.FileName, "where to save the project archive")
	buildCmd.Flags().BoolVar(&buildNoSave, "no-save", false, "do not download the archive after a successful build")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	lib, err := model.ParseLibrary(buildLibrary)
	if err != nil {
		return err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := call(http.MethodPost, serverURL+"/api/workspaces", nil, http.StatusCreated, &created); err != nil {
		return err
	}

	req := map[string]string{
		"prompt":  args[0],
		"token":   buildToken,
		"library": string(lib),
	}
	if err := call(http.MethodPost, workspaceURL(created.ID, "build"), req, http.StatusAccepted, nil); err != nil {
		return err
	}

	fmt.Printf("Workspace %s building with %s\n\n", labelStyle.Render(created.ID), lib)

	stdin := bufio.NewReader(os.Stdin)
	h := &buildWatcher{
		out: os.Stdout,
		onInputs: func(inputs []model.RequiredInput) error {
			return collectInputs(created.ID, inputs, stdin)
		},
	}
	username, err := streamEvents(created.ID, h)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s Bot is running as %s\n", successStyle.Render("✓"), labelStyle.Render(username))
	if buildNoSave {
		return nil
	}
	return downloadArchive(created.ID, buildOutput)
}

// buildWatcher prints build events and hands input requests to onInputs.
type buildWatcher struct {
	out      io.Writer
	onInputs func([]model.RequiredInput) error
	// A debug fix re-announces the files it replaces.
	seen map[string]bool
}

// errBuildFailed wraps the message of a failed build.
var errBuildFailed = errors.New("build failed")

// handle processes one event. It returns done with the bot username once
// the build succeeds.
func (b *buildWatcher) handle(ev model.Event) (username string, done bool, err error) {
	switch ev.Type {
	case model.EventState:
		fmt.Fprintf(b.out, "%s\n", renderState(model.BuildState(ev.Data)))
	case model.EventLog:
		var entry model.LogEntry
		if err := json.Unmarshal([]byte(ev.Data), &entry); err != nil {
			return "", false, nil
		}
		fmt.Fprintf(b.out, "  %s\n", renderLog(entry))
	case model.EventFile:
		if b.seen == nil {
			b.seen = make(map[string]bool)
		}
		if !b.seen[ev.Data] {
			b.seen[ev.Data] = true
			fmt.Fprintf(b.out, "  %s %s\n", dimStyle.Render("+"), ev.Data)
		}
	case model.EventInputs:
		var inputs []model.RequiredInput
		if err := json.Unmarshal([]byte(ev.Data), &inputs); err != nil {
			return "", false, fmt.Errorf("parsing input request: %w", err)
		}
		if b.onInputs != nil {
			if err := b.onInputs(inputs); err != nil {
				return "", false, err
			}
		}
	case model.EventError:
		return "", false, fmt.Errorf("%w: %s", errBuildFailed, ev.Data)
	case model.EventDone:
		return ev.Data, true, nil
	}
	return "", false, nil
}

// streamEvents follows a workspace's event stream until the build
// finishes or fails.
func streamEvents(id string, h *buildWatcher) (string, error) {
	req, _ := http.NewRequest(http.MethodGet, workspaceURL(id, "events"), nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", serverError(resp)
	}
	return readEvents(resp.Body, h)
}

// readEvents parses "data:" lines of an SSE stream.
func readEvents(r io.Reader, h *buildWatcher) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev model.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		username, done, err := h.handle(ev)
		if err != nil {
			return "", err
		}
		if done {
			return username, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("event stream closed before the build finished")
}

// collectInputs prompts for each requested value and submits them. Closing
// stdin cancels the build.
func collectInputs(id string, inputs []model.RequiredInput, stdin *bufio.Reader) error {
	fmt.Println()
	fmt.Println(labelStyle.Render("This bot needs more information."))

	var secret func() (string, error)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		secret = readSecret
	}
	values, err := promptInputs(inputs, stdin, os.Stdout, secret)
	if errors.Is(err, io.EOF) {
		if cerr := call(http.MethodPost, workspaceURL(id, "inputs", "cancel"), nil, http.StatusOK, nil); cerr != nil {
			return cerr
		}
		return fmt.Errorf("build cancelled")
	}
	if err != nil {
		return err
	}

	body := map[string]any{"values": values}
	if err := call(http.MethodPost, workspaceURL(id, "inputs"), body, http.StatusAccepted, nil); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

// promptInputs asks for each input on out. Password inputs are read with
// secret when it is non-nil. Required inputs are asked again until filled.
func promptInputs(inputs []model.RequiredInput, in *bufio.Reader, out io.Writer, secret func() (string, error)) (map[string]string, error) {
	values := make(map[string]string, len(inputs))
	for _, input := range inputs {
		label := input.Label
		if label == "" {
			label = input.Name
		}
		if input.Description != "" {
			fmt.Fprintf(out, "%s\n", dimStyle.Render(input.Description))
		}
		suffix := ""
		if !input.Required {
			suffix = " (optional)"
		}

		for {
			fmt.Fprintf(out, "%s%s: ", label, suffix)

			var v string
			var err error
			if input.Kind == model.InputPassword && secret != nil {
				v, err = secret()
				fmt.Fprintln(out)
			} else {
				v, err = in.ReadString('\n')
				if errors.Is(err, io.EOF) && v != "" {
					err = nil
				}
			}
			if err != nil {
				return nil, err
			}

			v = strings.TrimSpace(v)
			if v == "" && input.Required {
				fmt.Fprintln(out, errorStyle.Render(label+" is required."))
				continue
			}
			if v != "" {
				values[input.Name] = v
			}
			break
		}
	}
	return values, nil
}

// readSecret reads a line from the terminal without echo.
func readSecret() (string, error) {
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func downloadArchive(id, path string) error {
	data, err := fetch(workspaceURL(id, "archive"))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("saving archive: %w", err)
	}
	fmt.Printf("Project saved to %s\n", path)
	return nil
}
