// Package httpapi provides the HTTP API for BotForge.
// It delegates all business logic to the engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/jxucoder/botforge/archive"
	"github.com/jxucoder/botforge/engine"
	"github.com/jxucoder/botforge/model"
)

const maxPromptRunes = 10000

// Handler provides the HTTP API for BotForge.
type Handler struct {
	engine   *engine.Engine
	router   chi.Router
	upgrader websocket.Upgrader
}

// New creates a new HTTP API handler.
func New(eng *engine.Engine) *Handler {
	h := &Handler{
		engine: eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/workspaces", h.handleCreateWorkspace)
			r.Get("/workspaces", h.handleListWorkspaces)
			r.Get("/workspaces/{id}", h.handleGetWorkspace)
			r.Post("/workspaces/{id}/build", h.handleBuild)
			r.Post("/workspaces/{id}/inputs", h.handleSubmitInputs)
			r.Post("/workspaces/{id}/inputs/cancel", h.handleCancelInputs)
			r.Post("/workspaces/{id}/reset", h.handleReset)
			r.Post("/workspaces/{id}/runtime/start", h.handleRuntimeStart)
			r.Post("/workspaces/{id}/runtime/stop", h.handleRuntimeStop)
			r.Get("/workspaces/{id}/files", h.handleListFiles)
			r.Get("/workspaces/{id}/files/*", h.handleGetFile)
			r.Get("/workspaces/{id}/archive", h.handleArchive)
			r.Get("/preferences", h.handleGetPreferences)
			r.Put("/preferences", h.handleSavePreferences)
		})
		// Export talks to GitHub once per file and may outlast the default timeout.
		r.Post("/workspaces/{id}/export", h.handleExport)
		r.Get("/workspaces/{id}/events", h.handleWorkspaceEvents)
		r.Get("/workspaces/{id}/runtime/ws", h.handleRuntimeSocket)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createWorkspaceResponse struct {
	ID string `json:"id"`
}

type buildRequest struct {
	Prompt  string `json:"prompt"`
	Token   string `json:"token"`
	Library string `json:"library,omitempty"`
}

type inputsRequest struct {
	Values map[string]string `json:"values"`
}

type exportRequest struct {
	Repo    string `json:"repo"`
	Private bool   `json:"private"`
}

type exportResponse struct {
	URL string `json:"url"`
}

type fileSummary struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// workspaceResponse is the full view of one workspace.
type workspaceResponse struct {
	ID               string                `json:"id"`
	State            model.BuildState      `json:"state"`
	Prompt           string                `json:"prompt"`
	Library          model.Library         `json:"library"`
	Token            string                `json:"token,omitempty"`
	Log              []model.LogEntry      `json:"log"`
	Files            []model.GeneratedFile `json:"files"`
	Error            string                `json:"error,omitempty"`
	BotUsername      string                `json:"bot_username,omitempty"`
	RequiredInputs   []model.RequiredInput `json:"required_inputs"`
	RuntimeLog       []model.LogEntry      `json:"runtime_log"`
	RuntimeRunning   bool                  `json:"is_runtime_running"`
	SecondsRemaining int                   `json:"seconds_remaining"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// --- Handlers ---

func (h *Handler) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.engine.CreateWorkspace()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create workspace")
		log.Printf("Error creating workspace: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, createWorkspaceResponse{ID: ws.ID()})
}

func (h *Handler) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListWorkspaces()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list workspaces")
		log.Printf("Error listing workspaces: %v", err)
		return
	}
	if list == nil {
		list = []*model.BuildSession{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshot(ws))
}

func (h *Handler) handleBuild(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req buildRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Token = strings.TrimSpace(req.Token)
	if len([]rune(req.Prompt)) > maxPromptRunes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("prompt exceeds %d characters", maxPromptRunes))
		return
	}

	if err := ws.StartBuild(req.Prompt, req.Token, model.Library(req.Library)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot(ws))
}

func (h *Handler) handleSubmitInputs(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req inputsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := ws.SubmitRequiredInputs(req.Values); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot(ws))
}

func (h *Handler) handleCancelInputs(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.CancelAwaitingInput(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot(ws))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	ws.ResetSession()
	writeJSON(w, http.StatusOK, snapshot(ws))
}

func (h *Handler) handleRuntimeStart(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.StartRuntime(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.Runtime())
}

func (h *Handler) handleRuntimeStop(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	ws.StopRuntime()
	writeJSON(w, http.StatusOK, ws.Runtime())
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	files := ws.Files()
	out := make([]fileSummary, 0, len(files))
	for _, f := range files {
		out = append(out, fileSummary{Name: f.Name, Size: len(f.Code)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "*")
	f, found := ws.File(name)
	if !found {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(f.Code))
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	files := ws.Files()
	if len(files) == 0 {
		writeError(w, http.StatusNotFound, "no files generated yet")
		return
	}
	data, err := archive.Bytes(files)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build archive")
		log.Printf("Error building archive for workspace %s: %v", ws.ID(), err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.FileName))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Repo = strings.TrimSpace(req.Repo)
	if !isValidRepoName(req.Repo) {
		writeError(w, http.StatusBadRequest, "repo must be a repository name without an owner")
		return
	}

	url, err := ws.Export(r.Context(), req.Repo, req.Private)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exportResponse{URL: url})
}

func (h *Handler) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.engine.Store().GetPreferences()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load preferences")
		log.Printf("Error loading preferences: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.engine.Store().GetPreferences()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load preferences")
		log.Printf("Error loading preferences: %v", err)
		return
	}
	if !decodeBody(w, r, prefs) {
		return
	}
	if !prefs.Theme.Valid() {
		writeError(w, http.StatusBadRequest, "theme must be 'light' or 'dark'")
		return
	}
	if prefs.LastToken != "" && !engine.ValidToken(prefs.LastToken) {
		writeError(w, http.StatusBadRequest, "last_token is not a valid Telegram token")
		return
	}
	if err := h.engine.Store().SavePreferences(prefs); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save preferences")
		log.Printf("Error saving preferences: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) handleWorkspaceEvents(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	id := ws.ID()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the replay so nothing published in between is lost.
	ch := h.engine.Bus().Subscribe(id)
	defer h.engine.Bus().Unsubscribe(id, ch)

	var lastID int64
	events, err := h.engine.Store().GetEvents(id, 0)
	if err != nil {
		log.Printf("failed to load events for workspace %s: %v", id, err)
		events = nil
	}
	for _, e := range events {
		writeSSE(w, e)
		lastID = e.ID
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.ID != 0 && event.ID <= lastID {
				continue
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

// handleRuntimeSocket streams runtime log entries over a WebSocket. The
// current runtime status is sent first, then one message per new entry.
func (h *Handler) handleRuntimeSocket(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	id := ws.ID()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("runtime socket upgrade for workspace %s: %v", id, err)
		return
	}
	defer conn.Close()

	ch := h.engine.Bus().Subscribe(id)
	defer h.engine.Bus().Unsubscribe(id, ch)

	if err := conn.WriteJSON(ws.Runtime()); err != nil {
		return
	}

	// The client never sends anything meaningful; reading detects close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Type != model.EventRuntime {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(event.Data)); err != nil {
				return
			}
		}
	}
}

// --- Helpers ---

func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (*engine.Workspace, bool) {
	ws, err := h.engine.Workspace(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return nil, false
	}
	return ws, true
}

func snapshot(ws *engine.Workspace) workspaceResponse {
	sess := ws.Snapshot()
	rt := ws.Runtime()
	resp := workspaceResponse{
		ID:               sess.ID,
		State:            sess.State,
		Prompt:           sess.Prompt,
		Library:          sess.Library,
		Log:              sess.Log,
		Files:            sess.Files,
		Error:            sess.Error,
		BotUsername:      sess.BotUsername,
		RequiredInputs:   sess.RequiredInputs,
		RuntimeLog:       rt.Log,
		RuntimeRunning:   rt.Running,
		SecondsRemaining: rt.SecondsRemaining,
		CreatedAt:        sess.CreatedAt,
		UpdatedAt:        sess.UpdatedAt,
	}
	if sess.Token != "" {
		resp.Token = model.MaskToken(sess.Token)
	}
	if resp.Log == nil {
		resp.Log = []model.LogEntry{}
	}
	if resp.Files == nil {
		resp.Files = []model.GeneratedFile{}
	}
	if resp.RequiredInputs == nil {
		resp.RequiredInputs = []model.RequiredInput{}
	}
	if resp.RuntimeLog == nil {
		resp.RuntimeLog = []model.LogEntry{}
	}
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeEngineError maps engine errors to status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, engine.ErrWorkspaceNotFound):
		writeError(w, http.StatusNotFound, "workspace not found")
	case errors.Is(err, engine.ErrBusy),
		errors.Is(err, engine.ErrNotAwaitingInput),
		errors.Is(err, engine.ErrNotBuilt):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrExportDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		log.Printf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("writeSSE marshal error: %v", err)
		return
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data)); err != nil {
		log.Printf("writeSSE write error: %v", err)
	}
}

func isValidRepoName(repo string) bool {
	if repo == "" || len(repo) > 100 || strings.ContainsAny(repo, "/ ") {
		return false
	}
	return repo != "." && repo != ".."
}
