package sqlite

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jxucoder/botforge/model"
	"github.com/jxucoder/botforge/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func createWorkspace(t *testing.T, st *Store, id string) *model.BuildSession {
	t.Helper()
	now := time.Now().UTC()
	ws := &model.BuildSession{
		ID:        id,
		Library:   model.DefaultLibrary,
		State:     model.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateWorkspace(ws); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return ws
}

func TestWorkspaceCRUD(t *testing.T) {
	st := newTestStore(t)
	ws := createWorkspace(t, st, "abc12345")

	got, err := st.GetWorkspace(ws.ID)
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	if got.ID != ws.ID || got.State != model.StateIdle || got.Library != model.LibraryPTB {
		t.Fatalf("unexpected workspace: %+v", got)
	}
	if got.AdditionalData != nil {
		t.Fatalf("expected no additional data, got %v", got.AdditionalData)
	}

	got.Prompt = "quiz bot"
	got.State = model.StateSuccess
	got.BotUsername = "@QuizBot"
	got.AdditionalData = map[string]string{"API_KEY": "secret"}
	if err := st.UpdateWorkspace(got); err != nil {
		t.Fatalf("update workspace: %v", err)
	}

	got2, err := st.GetWorkspace(ws.ID)
	if err != nil {
		t.Fatalf("get updated workspace: %v", err)
	}
	if got2.State != model.StateSuccess || got2.BotUsername != "@QuizBot" || got2.Prompt != "quiz bot" {
		t.Fatalf("workspace not updated: %+v", got2)
	}
	if got2.AdditionalData["API_KEY"] != "secret" {
		t.Fatalf("additional data not persisted: %v", got2.AdditionalData)
	}
}

func TestGetWorkspaceNotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.GetWorkspace("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err := st.UpdateWorkspace(&model.BuildSession{ID: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestListWorkspacesNewestFirst(t *testing.T) {
	st := newTestStore(t)
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		ws := &model.BuildSession{
			ID:        fmt.Sprintf("ws%d", i),
			State:     model.StateIdle,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base,
		}
		if err := st.CreateWorkspace(ws); err != nil {
			t.Fatalf("create workspace: %v", err)
		}
	}

	list, err := st.ListWorkspaces()
	if err != nil {
		t.Fatalf("list workspaces: %v", err)
	}
	if len(list) != 3 || list[0].ID != "ws2" || list[2].ID != "ws0" {
		t.Fatalf("unexpected order: %v, %v, %v", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestEvents(t *testing.T) {
	st := newTestStore(t)
	ws := createWorkspace(t, st, "evt12345")

	for i := 0; i < 3; i++ {
		ev := &model.Event{
			SessionID: ws.ID,
			Type:      model.EventLog,
			Data:      fmt.Sprintf("line-%d", i),
			CreatedAt: time.Now().UTC(),
		}
		if err := st.AddEvent(ev); err != nil {
			t.Fatalf("add event: %v", err)
		}
		if ev.ID == 0 {
			t.Fatal("expected event ID to be set")
		}
	}

	all, err := st.GetEvents(ws.ID, 0)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(all) != 3 || all[0].Data != "line-0" {
		t.Fatalf("unexpected events: %+v", all)
	}

	after, err := st.GetEvents(ws.ID, all[1].ID)
	if err != nil {
		t.Fatalf("get events after: %v", err)
	}
	if len(after) != 1 || after[0].Data != "line-2" {
		t.Fatalf("unexpected events after %d: %+v", all[1].ID, after)
	}

	if err := st.DeleteEvents(ws.ID); err != nil {
		t.Fatalf("delete events: %v", err)
	}
	none, err := st.GetEvents(ws.ID, 0)
	if err != nil {
		t.Fatalf("get events after delete: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events, got %d", len(none))
	}
}

func TestFilesKeepInsertionOrder(t *testing.T) {
	st := newTestStore(t)
	ws := createWorkspace(t, st, "files123")

	for _, name := range []string{"README.md", "src/main.py", "src/handlers.py"} {
		if err := st.PutFile(ws.ID, model.GeneratedFile{Name: name, Code: "v1"}); err != nil {
			t.Fatalf("put file: %v", err)
		}
	}
	if err := st.PutFile(ws.ID, model.GeneratedFile{Name: "src/main.py", Code: "v2"}); err != nil {
		t.Fatalf("overwrite file: %v", err)
	}

	files, err := st.ListFiles(ws.ID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	if files[0].Name != "README.md" || files[1].Name != "src/main.py" || files[2].Name != "src/handlers.py" {
		t.Fatalf("unexpected order: %+v", files)
	}
	if files[1].Code != "v2" {
		t.Fatalf("expected overwritten code, got %q", files[1].Code)
	}

	if err := st.DeleteFiles(ws.ID); err != nil {
		t.Fatalf("delete files: %v", err)
	}
	files, err = st.ListFiles(ws.ID)
	if err != nil {
		t.Fatalf("list files after delete: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %d", len(files))
	}
}

func TestPreferences(t *testing.T) {
	st := newTestStore(t)

	p, err := st.GetPreferences()
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	if p.Theme != model.ThemeDark || p.LastToken != "" {
		t.Fatalf("unexpected defaults: %+v", p)
	}

	p.Theme = model.ThemeLight
	p.LastToken = "123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZ012345abcde"
	if err := st.SavePreferences(p); err != nil {
		t.Fatalf("save preferences: %v", err)
	}
	got, err := st.GetPreferences()
	if err != nil {
		t.Fatalf("get saved preferences: %v", err)
	}
	if *got != *p {
		t.Fatalf("expected %+v, got %+v", p, got)
	}
}
