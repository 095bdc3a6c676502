package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jxucoder/botforge/model"
)

// workspace mirrors the server's workspace JSON.
type workspace struct {
	ID               string                `json:"id"`
	State            model.BuildState      `json:"state"`
	Prompt           string                `json:"prompt"`
	Library          model.Library         `json:"library"`
	Token            string                `json:"token"`
	Log              []model.LogEntry      `json:"log"`
	Files            []model.GeneratedFile `json:"files"`
	Error            string                `json:"error"`
	BotUsername      string                `json:"bot_username"`
	RequiredInputs   []model.RequiredInput `json:"required_inputs"`
	RuntimeLog       []model.LogEntry      `json:"runtime_log"`
	RuntimeRunning   bool                  `json:"is_runtime_running"`
	SecondsRemaining int                   `json:"seconds_remaining"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

type apiError struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

func workspaceURL(id string, parts ...string) string {
	u := serverURL + "/api/workspaces/" + id
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// call sends a JSON request and decodes a JSON response into out (when non-nil).
// Any status other than want becomes an error carrying the server's message.
func call(method, url string, body any, want int, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: botforge serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return serverError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func serverError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var e apiError
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		if e.Field != "" {
			return fmt.Errorf("%s: %s", e.Field, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

func getWorkspace(id string) (*workspace, error) {
	var ws workspace
	if err := call(http.MethodGet, workspaceURL(id), nil, http.StatusOK, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// fetch GETs url and returns the raw body.
func fetch(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}
	return io.ReadAll(resp.Body)
}
