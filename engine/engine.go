// Package engine drives bot build workspaces. Each workspace owns one build
// session and one runtime simulator; the engine owns the workspaces and the
// shared dependencies (store, event bus, generator, publisher).
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jxucoder/botforge/eventbus"
	"github.com/jxucoder/botforge/gitprovider"
	"github.com/jxucoder/botforge/model"
	"github.com/jxucoder/botforge/pipeline"
	"github.com/jxucoder/botforge/simulator"
	"github.com/jxucoder/botforge/store"
)

// Config holds engine-specific configuration.
type Config struct {
	// BuildDelay and RunDelay pace the scripted build and run steps.
	BuildDelay time.Duration
	RunDelay   time.Duration

	Simulator simulator.Config
}

// DefaultConfig returns the standard pacing.
func DefaultConfig() Config {
	return Config{
		BuildDelay: 2000 * time.Millisecond,
		RunDelay:   1500 * time.Millisecond,
		Simulator:  simulator.DefaultConfig(),
	}
}

// Engine orchestrates workspace lifecycles.
type Engine struct {
	config    Config
	store     store.WorkspaceStore
	bus       eventbus.Bus
	gen       *pipeline.Generator
	publisher gitprovider.Publisher

	mu         sync.Mutex
	workspaces map[string]*Workspace

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Engine. publisher may be nil, which disables export.
func New(
	cfg Config,
	st store.WorkspaceStore,
	bus eventbus.Bus,
	gen *pipeline.Generator,
	publisher gitprovider.Publisher,
) *Engine {
	if cfg.BuildDelay < 0 {
		cfg.BuildDelay = 0
	}
	if cfg.RunDelay < 0 {
		cfg.RunDelay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		config:     cfg,
		store:      st,
		bus:        bus,
		gen:        gen,
		publisher:  publisher,
		workspaces: make(map[string]*Workspace),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start ties background work to ctx. Call Stop to shut down.
func (e *Engine) Start(ctx context.Context) {
	e.cancel()
	e.ctx, e.cancel = context.WithCancel(ctx)
}

// Stop cancels background work, waits for build goroutines to finish, and
// tears down every runtime simulator.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	wss := make([]*Workspace, 0, len(e.workspaces))
	for _, w := range e.workspaces {
		wss = append(wss, w)
	}
	e.mu.Unlock()

	for _, w := range wss {
		w.sim.Close()
	}
}

// Store returns the workspace store.
func (e *Engine) Store() store.WorkspaceStore { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// CanExport reports whether a publisher is configured.
func (e *Engine) CanExport() bool { return e.publisher != nil }

// CreateWorkspace creates an idle workspace.
func (e *Engine) CreateWorkspace() (*Workspace, error) {
	id := uuid.New().String()[:8]
	now := time.Now().UTC()
	sess := model.BuildSession{
		ID:        id,
		Library:   model.DefaultLibrary,
		State:     model.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateWorkspace(&sess); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	w := e.newWorkspace(sess)
	e.mu.Lock()
	e.workspaces[id] = w
	e.mu.Unlock()
	return w, nil
}

// Workspace returns a workspace by ID, restoring it from the store when it is
// not loaded.
func (e *Engine) Workspace(id string) (*Workspace, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.workspaces[id]; ok {
		return w, nil
	}
	w, err := e.restore(id)
	if err != nil {
		return nil, err
	}
	e.workspaces[id] = w
	return w, nil
}

// ListWorkspaces returns persisted workspace summaries, newest first.
func (e *Engine) ListWorkspaces() ([]*model.BuildSession, error) {
	return e.store.ListWorkspaces()
}

// restore rebuilds a workspace from persisted rows. A build that was in
// flight when the process stopped cannot resume and is marked failed.
// Callers hold e.mu.
func (e *Engine) restore(id string) (*Workspace, error) {
	sess, err := e.store.GetWorkspace(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading workspace: %w", err)
	}

	files, err := e.store.ListFiles(id)
	if err != nil {
		return nil, fmt.Errorf("loading files: %w", err)
	}
	events, err := e.store.GetEvents(id, 0)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	for _, ev := range events {
		if ev.Type != model.EventLog {
			continue
		}
		var entry model.LogEntry
		if err := json.Unmarshal([]byte(ev.Data), &entry); err == nil {
			sess.Log = append(sess.Log, entry)
		}
	}

	w := e.newWorkspace(*sess)
	for _, f := range files {
		w.files.Put(f.Name, f.Code)
	}
	if sess.State.Busy() {
		w.mu.Lock()
		w.sess.Error = "Build interrupted by a server restart."
		w.appendLogLocked(model.LogError, w.sess.Error)
		w.setStateLocked(model.StateError)
		w.mu.Unlock()
	}
	return w, nil
}

func (e *Engine) newWorkspace(sess model.BuildSession) *Workspace {
	w := &Workspace{
		id:    sess.ID,
		eng:   e,
		sess:  sess,
		files: model.NewFileSet(),
	}
	w.sim = simulator.New(e.config.Simulator, w.onRuntimeLog)
	return w
}

// spawn runs fn on a goroutine tracked by the engine wait group.
func (e *Engine) spawn(fn func(ctx context.Context)) {
	ctx := e.ctx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(ctx)
	}()
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// rememberToken saves the last valid token in the preferences.
func (e *Engine) rememberToken(token string) {
	prefs, err := e.store.GetPreferences()
	if err != nil {
		log.Printf("Error loading preferences: %v", err)
		return
	}
	if prefs.LastToken == token {
		return
	}
	prefs.LastToken = token
	if err := e.store.SavePreferences(prefs); err != nil {
		log.Printf("Error saving preferences: %v", err)
	}
}

func (e *Engine) emitEvent(workspaceID, eventType, data string) {
	event := &model.Event{
		SessionID: workspaceID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.AddEvent(event); err != nil {
		log.Printf("Error storing event: %v", err)
	}
	e.bus.Publish(workspaceID, event)
}

func (e *Engine) emitJSON(workspaceID, eventType string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error encoding %s event: %v", eventType, err)
		return
	}
	e.emitEvent(workspaceID, eventType, string(b))
}
