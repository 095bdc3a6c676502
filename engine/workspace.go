package engine

import (
	"context"
	"fmt"
	"log"
	"maps"
	"slices"
	"sync"

	"github.com/jxucoder/botforge/gitprovider"
	"github.com/jxucoder/botforge/model"
	"github.com/jxucoder/botforge/simulator"
)

// Workspace is one build session plus its runtime simulator. All entry points
// are safe for concurrent use.
type Workspace struct {
	id  string
	eng *Engine
	sim *simulator.Simulator

	mu      sync.Mutex
	sess    model.BuildSession
	files   *model.FileSet
	pending *Suspension
}

// ID returns the workspace ID.
func (w *Workspace) ID() string { return w.id }

// StartBuild validates the request and starts a new build attempt in the
// background. Validation failures are returned as *ValidationError; a bad
// token format also moves the session to ERROR. ErrBusy is returned while
// another attempt is in flight.
func (w *Workspace) StartBuild(prompt, token string, lib model.Library) error {
	if lib == "" {
		lib = model.DefaultLibrary
	}
	if _, err := model.ParseLibrary(string(lib)); err != nil {
		return &ValidationError{Field: "library", Message: err.Error()}
	}

	w.mu.Lock()
	if w.sess.State.Busy() {
		w.mu.Unlock()
		return ErrBusy
	}

	if verr := validateRequest(prompt, token); verr != nil {
		w.sess.Error = verr.Message
		if verr.Field == "token" {
			w.appendLogLocked(model.LogError, "Build halted: Invalid Telegram token format.")
			w.setStateLocked(model.StateError)
		} else {
			w.persistLocked()
		}
		w.mu.Unlock()
		return verr
	}

	w.sess.Epoch++
	epoch := w.sess.Epoch
	w.pending = nil
	w.sess.Prompt = prompt
	w.sess.Token = token
	w.sess.Library = lib
	w.sess.Log = nil
	w.sess.Error = ""
	w.sess.RequiredInputs = nil
	w.sess.AdditionalData = nil
	w.sess.BotUsername = ""
	w.files = model.NewFileSet()
	w.clearHistoryLocked()
	w.setStateLocked(model.StatePlanning)
	w.mu.Unlock()

	w.sim.Close()
	w.eng.rememberToken(token)

	w.eng.spawn(func(ctx context.Context) {
		w.analyze(ctx, epoch)
	})
	return nil
}

// SubmitRequiredInputs resumes a build suspended in AWAITING_INPUT.
func (w *Workspace) SubmitRequiredInputs(values map[string]string) error {
	w.mu.Lock()
	if w.pending == nil || w.sess.State != model.StateAwaitingInput {
		w.mu.Unlock()
		return ErrNotAwaitingInput
	}
	susp := w.pending
	data, err := susp.collect(values)
	if err != nil {
		w.mu.Unlock()
		return err
	}

	w.pending = nil
	w.sess.AdditionalData = data
	w.sess.RequiredInputs = nil
	w.appendLogLocked(model.LogInfo, "Additional information provided. Continuing build...")
	w.setStateLocked(model.StatePlanning)
	w.mu.Unlock()

	susp.resume(data)
	return nil
}

// CancelAwaitingInput abandons a suspended build and resets the session.
func (w *Workspace) CancelAwaitingInput() error {
	w.mu.Lock()
	if w.sess.State != model.StateAwaitingInput {
		w.mu.Unlock()
		return ErrNotAwaitingInput
	}
	w.mu.Unlock()
	w.ResetSession()
	return nil
}

// ResetSession returns the workspace to IDLE, discards every session field,
// and tears down the runtime simulator. Results of an in-flight generation
// call are ignored when they arrive.
func (w *Workspace) ResetSession() {
	w.mu.Lock()
	w.sess.Epoch++
	w.pending = nil
	w.sess.Prompt = ""
	w.sess.Token = ""
	w.sess.Library = model.DefaultLibrary
	w.sess.Log = nil
	w.sess.Error = ""
	w.sess.RequiredInputs = nil
	w.sess.AdditionalData = nil
	w.sess.BotUsername = ""
	w.files = model.NewFileSet()
	w.clearHistoryLocked()
	w.setStateLocked(model.StateIdle)
	w.mu.Unlock()

	w.sim.Close()
}

// StartRuntime (re)starts the runtime simulator for a successful build.
func (w *Workspace) StartRuntime() error {
	w.mu.Lock()
	if w.sess.State != model.StateSuccess {
		w.mu.Unlock()
		return ErrNotBuilt
	}
	name := w.sess.BotUsername
	w.mu.Unlock()

	w.sim.Start(name)
	return nil
}

// StopRuntime stops the runtime simulator.
func (w *Workspace) StopRuntime() {
	w.sim.Stop()
}

// Runtime returns the runtime simulator status.
func (w *Workspace) Runtime() model.RuntimeStatus {
	return w.sim.Status()
}

// Snapshot returns a copy of the build session.
func (w *Workspace) Snapshot() model.BuildSession {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.sess
	s.Log = slices.Clone(w.sess.Log)
	s.Files = w.files.Files()
	s.RequiredInputs = slices.Clone(w.sess.RequiredInputs)
	s.AdditionalData = maps.Clone(w.sess.AdditionalData)
	return s
}

// State returns the current build state.
func (w *Workspace) State() model.BuildState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess.State
}

// Files returns the generated files in display order.
func (w *Workspace) Files() []model.GeneratedFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files.Files()
}

// File returns one generated file by name.
func (w *Workspace) File(name string) (model.GeneratedFile, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files.Get(name)
}

// Export publishes the generated project to a new repository and returns its
// URL.
func (w *Workspace) Export(ctx context.Context, repo string, private bool) (string, error) {
	if w.eng.publisher == nil {
		return "", ErrExportDisabled
	}
	w.mu.Lock()
	if w.sess.State != model.StateSuccess {
		w.mu.Unlock()
		return "", ErrNotBuilt
	}
	opts := gitprovider.PublishOptions{
		Repo:        repo,
		Private:     private,
		Description: model.Truncate(w.sess.Prompt, 300),
		Files:       w.files.Files(),
	}
	w.mu.Unlock()

	url, err := w.eng.publisher.Publish(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("exporting workspace %s: %w", w.id, err)
	}
	log.Printf("Workspace %s exported to %s", w.id, url)
	return url, nil
}

// --- Epoch guard and locked mutators ---

// apply runs fn under the workspace lock if epoch is still current. It
// reports false when the attempt has been reset or superseded, in which case
// the caller must abandon the attempt.
func (w *Workspace) apply(epoch uint64, fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess.Epoch != epoch {
		return false
	}
	fn()
	return true
}

func (w *Workspace) current(epoch uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess.Epoch == epoch
}

func (w *Workspace) appendLogLocked(kind model.LogKind, msg string) {
	entry := model.NewLogEntry(kind, msg)
	w.sess.Log = append(w.sess.Log, entry)
	w.eng.emitJSON(w.id, model.EventLog, entry)
}

func (w *Workspace) setStateLocked(state model.BuildState) {
	w.sess.State = state
	w.persistLocked()
	w.eng.emitEvent(w.id, model.EventState, string(state))
}

func (w *Workspace) putFileLocked(name, code string) {
	w.files.Put(name, code)
	if err := w.eng.store.PutFile(w.id, model.GeneratedFile{Name: name, Code: code}); err != nil {
		log.Printf("Error storing file %s for workspace %s: %v", name, w.id, err)
	}
	w.eng.emitEvent(w.id, model.EventFile, name)
}

func (w *Workspace) replaceFileLocked(name, code string) bool {
	if !w.files.Replace(name, code) {
		return false
	}
	if err := w.eng.store.PutFile(w.id, model.GeneratedFile{Name: name, Code: code}); err != nil {
		log.Printf("Error storing file %s for workspace %s: %v", name, w.id, err)
	}
	w.eng.emitEvent(w.id, model.EventFile, name)
	return true
}

func (w *Workspace) persistLocked() {
	row := w.sess
	if err := w.eng.store.UpdateWorkspace(&row); err != nil {
		log.Printf("Error updating workspace %s: %v", w.id, err)
		return
	}
	w.sess.UpdatedAt = row.UpdatedAt
}

func (w *Workspace) clearHistoryLocked() {
	if err := w.eng.store.DeleteFiles(w.id); err != nil {
		log.Printf("Error clearing files for workspace %s: %v", w.id, err)
	}
	if err := w.eng.store.DeleteEvents(w.id); err != nil {
		log.Printf("Error clearing events for workspace %s: %v", w.id, err)
	}
}

func (w *Workspace) onRuntimeLog(entry model.LogEntry) {
	w.eng.emitJSON(w.id, model.EventRuntime, entry)
}
