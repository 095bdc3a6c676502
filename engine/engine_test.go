package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jxucoder/botforge/eventbus"
	"github.com/jxucoder/botforge/gitprovider"
	"github.com/jxucoder/botforge/model"
	"github.com/jxucoder/botforge/pipeline"
	"github.com/jxucoder/botforge/simulator"
	sqliteStore "github.com/jxucoder/botforge/store/sqlite"
)

const validToken = "123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZ012345abc"

// --- stubs ---

var fileNamePattern = regexp.MustCompile(`"file_name": "([^"]+)"`)

// scriptedLLM answers each pipeline prompt with a canned reply and records
// call order and concurrency.
type scriptedLLM struct {
	inputs   string
	plan     string
	debugFix string
	delay    time.Duration

	// failOn makes the named stage return an error ("inputs", "structure",
	// "setup", "debug", or a planned file name).
	failOn string
	// blockOn holds the named stage until release is closed.
	blockOn string
	entered chan struct{}
	release chan struct{}
	// onCall, if set, runs as each call enters, before any reply.
	onCall func(stage string)

	mu          sync.Mutex
	calls       []string
	prompts     []string
	inFlight    int
	maxInFlight int
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		inputs: `{"required_inputs": []}`,
		plan: `{"files":[` +
			`{"name":"src/main.py","purpose":"entry point","is_required":true},` +
			`{"name":"src/config.py","purpose":"settings","is_required":true},` +
			`{"name":"src/handlers.py","purpose":"handlers","is_required":true}],` +
			`"requirements":["python-telegram-bot>=20.0"],"run_cmd":"python src/main.py",` +
			`"docker_entry":["python","src/main.py"],"estimated_complexity":"low","bot_username":"@QuizBot"}`,
		debugFix: `{"fixed_files":[{"name":"src/handlers.py","code":"TOKEN = \"YOUR_BOT_TOKEN\"\nfixed = True","changes_summary":"closed the f-string"}],"updated_requirements":[],"retry_cmd":"python src/main.py"}`,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func stageOf(prompt string) string {
	switch {
	case strings.Contains(prompt, `"fixed_files"`):
		return "debug"
	case strings.Contains(prompt, `"requirements_txt"`):
		return "setup"
	case strings.Contains(prompt, `"file_name"`):
		if m := fileNamePattern.FindStringSubmatch(prompt); m != nil {
			return m[1]
		}
		return "file"
	case strings.Contains(prompt, `"bot_username"`):
		return "structure"
	case strings.Contains(prompt, `"required_inputs"`):
		return "inputs"
	}
	return "unknown"
}

func (s *scriptedLLM) Complete(ctx context.Context, _, prompt string) (string, error) {
	stage := stageOf(prompt)
	if s.onCall != nil {
		s.onCall(stage)
	}

	s.mu.Lock()
	s.calls = append(s.calls, stage)
	s.prompts = append(s.prompts, prompt)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if stage == s.blockOn {
		s.entered <- struct{}{}
		<-s.release
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if stage == s.failOn {
		return "", fmt.Errorf("upstream unavailable during %s", stage)
	}

	switch stage {
	case "inputs":
		return s.inputs, nil
	case "structure":
		return "Here is the plan:\n```json\n" + s.plan + "\n```", nil
	case "setup":
		return `{"requirements_txt":"python-telegram-bot>=20.0","dockerfile":"FROM python:3.12-slim\nENV BOT_TOKEN=YOUR_BOT_TOKEN\nCMD [\"python\", \"src/main.py\"]","install_cmd":"pip install -r requirements.txt"}`, nil
	case "debug":
		return s.debugFix, nil
	}
	code := fmt.Sprintf(`# %s\nTOKEN = \"YOUR_BOT_TOKEN\"\nBACKUP = \"YOUR_BOT_TOKEN\"`, stage)
	return fmt.Sprintf(`{"file_name":%q,"code":"%s","notes":""}`, stage, code), nil
}

func (s *scriptedLLM) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type stubPublisher struct {
	opts gitprovider.PublishOptions
	err  error
}

func (p *stubPublisher) Publish(_ context.Context, opts gitprovider.PublishOptions) (string, error) {
	p.opts = opts
	if p.err != nil {
		return "", p.err
	}
	return "https://github.com/alice/" + opts.Repo, nil
}

// --- helpers ---

func testConfig() Config {
	return Config{
		BuildDelay: time.Millisecond,
		RunDelay:   time.Millisecond,
		Simulator: simulator.Config{
			Seconds:     600,
			Tick:        time.Hour,
			MinLogDelay: time.Hour,
			MaxLogDelay: 2 * time.Hour,
		},
	}
}

func testEngineWithStore(t *testing.T, st *sqliteStore.Store, llm *scriptedLLM, pub gitprovider.Publisher) *Engine {
	t.Helper()
	eng := New(testConfig(), st, eventbus.NewInMemoryBus(), pipeline.NewGenerator(llm, ""), pub)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	return eng
}

func newStore(t *testing.T) *sqliteStore.Store {
	t.Helper()
	st, err := sqliteStore.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testEngine(t *testing.T, llm *scriptedLLM) *Engine {
	t.Helper()
	return testEngineWithStore(t, newStore(t), llm, nil)
}

func newWorkspace(t *testing.T, eng *Engine) *Workspace {
	t.Helper()
	w, err := eng.CreateWorkspace()
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return w
}

func waitForState(t *testing.T, w *Workspace, want model.BuildState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, state is %s (error %q)", want, w.State(), w.Snapshot().Error)
}

// waitForRuntime waits for the simulator, which starts right after SUCCESS is
// published.
func waitForRuntime(t *testing.T, w *Workspace) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w.Runtime().Running {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the runtime to start")
}

func hasLog(sess model.BuildSession, substr string) bool {
	for _, e := range sess.Log {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// --- tests ---

func TestBuildStateSequence(t *testing.T) {
	llm := newScriptedLLM()
	eng := testEngine(t, llm)
	w := newWorkspace(t, eng)

	events := eng.Bus().Subscribe(w.ID())
	defer eng.Bus().Unsubscribe(w.ID(), events)

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}

	var states []string
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			switch ev.Type {
			case model.EventState:
				states = append(states, ev.Data)
			case model.EventDone:
				done = true
			case model.EventError:
				t.Fatalf("build failed: %s", ev.Data)
			}
		case <-timeout:
			t.Fatalf("timed out; states so far: %v", states)
		}
	}

	want := []string{"PLANNING", "CODING", "BUILDING", "RUNNING", "DEBUGGING", "BUILDING", "RUNNING", "SUCCESS"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Fatalf("expected states %v, got %v", want, states)
	}
}

func TestSuccessfulBuildFilesAndRuntime(t *testing.T) {
	llm := newScriptedLLM()
	eng := testEngine(t, llm)
	w := newWorkspace(t, eng)

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryAiogram); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateSuccess)

	sess := w.Snapshot()
	var names []string
	for _, f := range sess.Files {
		names = append(names, f.Name)
	}
	wantNames := []string{"README.md", "src/main.py", "src/config.py", "src/handlers.py", "requirements.txt", "Dockerfile"}
	if strings.Join(names, ",") != strings.Join(wantNames, ",") {
		t.Fatalf("expected files %v, got %v", wantNames, names)
	}
	if sess.BotUsername != "@QuizBot" {
		t.Fatalf("expected bot username, got %q", sess.BotUsername)
	}
	if !strings.Contains(sess.Files[0].Code, "aiogram") || !strings.Contains(sess.Files[0].Code, "python src/main.py") {
		t.Fatalf("unexpected README: %s", sess.Files[0].Code)
	}
	if !hasLog(sess, "SyntaxError") || !hasLog(sess, "Bot is running successfully!") {
		t.Fatal("expected synthetic failure and success in log")
	}

	waitForRuntime(t, w)
	rt := w.Runtime()
	if !rt.Running || rt.SecondsRemaining != 600 {
		t.Fatalf("expected runtime to auto-start, got %+v", rt)
	}
	if len(rt.Log) < 2 || !strings.Contains(rt.Log[1].Message, "@QuizBot") {
		t.Fatalf("unexpected runtime log: %+v", rt.Log)
	}

	w.StopRuntime()
	rt = w.Runtime()
	if rt.Running || rt.Log[len(rt.Log)-1].Message != "Bot manually stopped." {
		t.Fatalf("unexpected runtime after stop: %+v", rt)
	}

	if err := w.StartRuntime(); err != nil {
		t.Fatalf("restart runtime: %v", err)
	}
	if !w.Runtime().Running {
		t.Fatal("expected runtime running after restart")
	}
}

func TestTokenValidation(t *testing.T) {
	if !ValidToken(validToken) {
		t.Fatalf("expected %q to be valid", validToken)
	}
	if len(validToken)-len("123456789:") != 35 {
		t.Fatalf("fixture body should be 35 characters: %q", validToken)
	}
	invalid := []string{
		"12345:short",
		"1234567:ABCDEFGHIJKLMNOPQRSTUVWXYZ012345abc",
		"123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ012345abc",
		// 37 characters after the colon.
		"123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZ012345abcde",
		validToken + "x",
	}
	for _, tok := range invalid {
		if ValidToken(tok) {
			t.Fatalf("expected %q to be invalid", tok)
		}
	}

	llm := newScriptedLLM()
	eng := testEngine(t, llm)
	w := newWorkspace(t, eng)

	err := w.StartBuild("A quiz bot", "12345:short", model.LibraryPTB)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "token" {
		t.Fatalf("expected token ValidationError, got %v", err)
	}
	sess := w.Snapshot()
	if sess.State != model.StateError || sess.Error == "" {
		t.Fatalf("expected ERROR with message, got %s %q", sess.State, sess.Error)
	}
	if !hasLog(sess, "Invalid Telegram token format") {
		t.Fatal("expected an ERROR log entry")
	}
	if calls := llm.callLog(); len(calls) != 0 {
		t.Fatalf("expected no generation calls, got %v", calls)
	}
}

func TestEmptyRequestRejected(t *testing.T) {
	llm := newScriptedLLM()
	w := newWorkspace(t, testEngine(t, llm))

	var verr *ValidationError
	if err := w.StartBuild("  ", validToken, ""); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for empty prompt, got %v", err)
	}
	if err := w.StartBuild("bot", "", ""); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for empty token, got %v", err)
	}
	if err := w.StartBuild("bot", validToken, "discord.py"); !errors.As(err, &verr) || verr.Field != "library" {
		t.Fatalf("expected library ValidationError, got %v", err)
	}
	if w.State() != model.StateIdle {
		t.Fatalf("expected IDLE, got %s", w.State())
	}
	if calls := llm.callLog(); len(calls) != 0 {
		t.Fatalf("expected no generation calls, got %v", calls)
	}
}

func TestGenerationCallsAreSequential(t *testing.T) {
	llm := newScriptedLLM()
	llm.delay = 3 * time.Millisecond
	w := newWorkspace(t, testEngine(t, llm))

	// Files present when each call enters.
	var seenMu sync.Mutex
	present := make(map[string]map[string]bool)
	llm.onCall = func(stage string) {
		names := make(map[string]bool)
		for _, f := range w.Files() {
			names[f.Name] = true
		}
		seenMu.Lock()
		present[stage] = names
		seenMu.Unlock()
	}

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateSuccess)

	llm.mu.Lock()
	maxInFlight := llm.maxInFlight
	llm.mu.Unlock()
	if maxInFlight != 1 {
		t.Fatalf("expected one call in flight at a time, saw %d", maxInFlight)
	}

	want := []string{"inputs", "structure", "src/main.py", "src/config.py", "src/handlers.py", "setup", "debug"}
	if got := llm.callLog(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected calls %v, got %v", want, got)
	}

	// The result of each file call is applied before the next call starts.
	seenMu.Lock()
	defer seenMu.Unlock()
	applied := map[string]string{
		"src/config.py":   "src/main.py",
		"src/handlers.py": "src/config.py",
		"setup":           "src/handlers.py",
		"debug":           "Dockerfile",
	}
	for stage, file := range applied {
		if !present[stage][file] {
			t.Fatalf("%s was not in the file set when the %s call started", file, stage)
		}
	}
	if present["src/config.py"]["src/handlers.py"] {
		t.Fatal("src/handlers.py existed before its own call")
	}
}

func TestDebugFixReplacesExistingFile(t *testing.T) {
	llm := newScriptedLLM()
	w := newWorkspace(t, testEngine(t, llm))

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateSuccess)

	sess := w.Snapshot()
	if len(sess.Files) != 6 {
		t.Fatalf("expected file count to stay 6, got %d", len(sess.Files))
	}
	f, ok := w.File("src/handlers.py")
	if !ok {
		t.Fatal("handlers file missing")
	}
	if !strings.Contains(f.Code, "fixed = True") || !strings.Contains(f.Code, validToken) {
		t.Fatalf("fix not applied with token: %q", f.Code)
	}
	if !hasLog(sess, "- Updated `src/handlers.py`: closed the f-string") {
		t.Fatal("expected a fix summary log entry")
	}
}

func TestDebugFixForUnknownFileIsSkipped(t *testing.T) {
	llm := newScriptedLLM()
	llm.debugFix = `{"fixed_files":[{"name":"src/ghost.py","code":"boo","changes_summary":"new"}],"updated_requirements":[],"retry_cmd":""}`
	w := newWorkspace(t, testEngine(t, llm))

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateSuccess)

	sess := w.Snapshot()
	if len(sess.Files) != 6 {
		t.Fatalf("expected unchanged file count, got %d", len(sess.Files))
	}
	if _, ok := w.File("src/ghost.py"); ok {
		t.Fatal("ghost file must not be added")
	}
	if sess.Error != "" {
		t.Fatalf("expected no error, got %q", sess.Error)
	}
	if !hasLog(sess, "Skipped `src/ghost.py`") {
		t.Fatal("expected the skipped fix to be logged")
	}
}

func TestNoPlaceholderAfterSuccess(t *testing.T) {
	llm := newScriptedLLM()
	w := newWorkspace(t, testEngine(t, llm))

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateSuccess)

	for _, f := range w.Files() {
		if strings.Contains(f.Code, pipeline.PlaceholderToken) {
			t.Fatalf("%s still contains the placeholder", f.Name)
		}
	}
	main, _ := w.File("src/main.py")
	if strings.Count(main.Code, validToken) != 2 {
		t.Fatalf("expected both placeholders replaced, got %q", main.Code)
	}
	docker, ok := w.File("Dockerfile")
	if !ok || !strings.Contains(docker.Code, "ENV BOT_TOKEN="+validToken) {
		t.Fatalf("expected token in Dockerfile, got %q", docker.Code)
	}
}

func TestRequiredInputNegotiation(t *testing.T) {
	llm := newScriptedLLM()
	llm.inputs = `{"required_inputs":[` +
		`{"name":"WEATHER_API_KEY","label":"Weather API key","type":"password","description":"OpenWeather key"},` +
		`{"name":"CITY","label":"Default city","type":"text","description":"","required":false}]}`
	w := newWorkspace(t, testEngine(t, llm))

	if err := w.StartBuild("A weather bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateAwaitingInput)

	sess := w.Snapshot()
	if len(sess.RequiredInputs) != 2 || sess.RequiredInputs[0].Kind != model.InputPassword {
		t.Fatalf("unexpected required inputs: %+v", sess.RequiredInputs)
	}
	if err := w.StartBuild("another", validToken, ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while awaiting input, got %v", err)
	}

	var verr *ValidationError
	if err := w.SubmitRequiredInputs(map[string]string{"CITY": "Berlin"}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for missing required value, got %v", err)
	}
	if w.State() != model.StateAwaitingInput {
		t.Fatal("rejected submission must keep the build suspended")
	}

	if err := w.SubmitRequiredInputs(map[string]string{"WEATHER_API_KEY": "k-123"}); err != nil {
		t.Fatalf("submit inputs: %v", err)
	}
	waitForState(t, w, model.StateSuccess)

	sess = w.Snapshot()
	if sess.AdditionalData["WEATHER_API_KEY"] != "k-123" || len(sess.RequiredInputs) != 0 {
		t.Fatalf("unexpected session after submit: %+v", sess)
	}
	if !hasLog(sess, "Additional information provided. Continuing build...") {
		t.Fatal("expected continuation log entry")
	}

	llm.mu.Lock()
	defer llm.mu.Unlock()
	if !strings.Contains(llm.prompts[1], `"WEATHER_API_KEY":"k-123"`) {
		t.Fatalf("structure prompt missing submitted data: %s", llm.prompts[1])
	}
}

func TestResetWhileAwaitingInput(t *testing.T) {
	llm := newScriptedLLM()
	llm.inputs = `{"required_inputs":[{"name":"ADMIN_ID","label":"Admin","type":"text","description":""}]}`
	w := newWorkspace(t, testEngine(t, llm))

	if err := w.StartBuild("An admin bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateAwaitingInput)

	w.ResetSession()

	sess := w.Snapshot()
	if sess.State != model.StateIdle || len(sess.Files) != 0 || len(sess.Log) != 0 || len(sess.RequiredInputs) != 0 {
		t.Fatalf("expected a clean IDLE session, got %+v", sess)
	}
	if err := w.SubmitRequiredInputs(map[string]string{"ADMIN_ID": "1"}); !errors.Is(err, ErrNotAwaitingInput) {
		t.Fatalf("expected ErrNotAwaitingInput, got %v", err)
	}
}

func TestCancelAwaitingInput(t *testing.T) {
	llm := newScriptedLLM()
	llm.inputs = `{"required_inputs":[{"name":"ADMIN_ID","label":"Admin","type":"text","description":""}]}`
	w := newWorkspace(t, testEngine(t, llm))

	if err := w.CancelAwaitingInput(); !errors.Is(err, ErrNotAwaitingInput) {
		t.Fatalf("expected ErrNotAwaitingInput, got %v", err)
	}
	if err := w.StartBuild("An admin bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateAwaitingInput)

	if err := w.CancelAwaitingInput(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sess := w.Snapshot(); sess.State != model.StateIdle || sess.Prompt != "" {
		t.Fatalf("expected discarded session, got %+v", sess)
	}
}

func TestLateResultIgnoredAfterReset(t *testing.T) {
	llm := newScriptedLLM()
	llm.blockOn = "structure"
	eng := testEngine(t, llm)
	w := newWorkspace(t, eng)

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	select {
	case <-llm.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("structure call never started")
	}

	if err := w.StartBuild("again", validToken, ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy during build, got %v", err)
	}

	w.ResetSession()
	close(llm.release)

	// Let the abandoned attempt observe its result.
	time.Sleep(50 * time.Millisecond)

	sess := w.Snapshot()
	if sess.State != model.StateIdle || len(sess.Files) != 0 || sess.BotUsername != "" || len(sess.Log) != 0 {
		t.Fatalf("late result leaked into the reset session: %+v", sess)
	}
	if calls := llm.callLog(); calls[len(calls)-1] != "structure" {
		t.Fatalf("abandoned attempt continued: %v", calls)
	}
}

func TestFileGenerationFailureKeepsPartialFiles(t *testing.T) {
	llm := newScriptedLLM()
	llm.failOn = "src/config.py"
	w := newWorkspace(t, testEngine(t, llm))

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateError)

	sess := w.Snapshot()
	if !strings.HasPrefix(sess.Error, "Build failed:") || !strings.Contains(sess.Error, "src/config.py") {
		t.Fatalf("unexpected error: %q", sess.Error)
	}
	if len(sess.Files) != 2 || sess.Files[0].Name != "README.md" || sess.Files[1].Name != "src/main.py" {
		t.Fatalf("expected partial files to be kept, got %+v", sess.Files)
	}
	if w.Runtime().Running {
		t.Fatal("runtime must not start after a failure")
	}
	if calls := llm.callLog(); calls[len(calls)-1] != "src/config.py" {
		t.Fatalf("pipeline continued after failure: %v", calls)
	}
}

func TestAnalysisFailure(t *testing.T) {
	llm := newScriptedLLM()
	llm.failOn = "inputs"
	w := newWorkspace(t, testEngine(t, llm))

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateError)
	if sess := w.Snapshot(); !strings.HasPrefix(sess.Error, "Analysis failed:") {
		t.Fatalf("unexpected error: %q", sess.Error)
	}
}

func TestMalformedPlanFails(t *testing.T) {
	llm := newScriptedLLM()
	llm.plan = `I could not come up with a plan.`
	w := newWorkspace(t, testEngine(t, llm))

	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateError)

	sess := w.Snapshot()
	if !strings.Contains(sess.Error, "malformed response") {
		t.Fatalf("expected malformed response error, got %q", sess.Error)
	}
	if !hasLog(sess, "Build failed:") {
		t.Fatal("expected ERROR log entry")
	}

	// A failed attempt can be retried.
	llm.plan = newScriptedLLM().plan
	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitForState(t, w, model.StateSuccess)
}

func TestStartRuntimeRequiresSuccess(t *testing.T) {
	w := newWorkspace(t, testEngine(t, newScriptedLLM()))
	if err := w.StartRuntime(); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected ErrNotBuilt, got %v", err)
	}
}

func TestResetTearsDownRuntime(t *testing.T) {
	w := newWorkspace(t, testEngine(t, newScriptedLLM()))
	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateSuccess)
	waitForRuntime(t, w)

	w.ResetSession()
	if rt := w.Runtime(); rt.Running || len(rt.Log) != 0 {
		t.Fatalf("expected runtime torn down, got %+v", rt)
	}
}

func TestWorkspaceLookup(t *testing.T) {
	eng := testEngine(t, newScriptedLLM())
	w := newWorkspace(t, eng)

	got, err := eng.Workspace(w.ID())
	if err != nil || got != w {
		t.Fatalf("expected the same workspace, got %v %v", got, err)
	}
	if _, err := eng.Workspace("missing"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
	list, err := eng.ListWorkspaces()
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one workspace, got %d %v", len(list), err)
	}
}

func TestRestoreFromStore(t *testing.T) {
	st := newStore(t)
	eng1 := New(testConfig(), st, eventbus.NewInMemoryBus(), pipeline.NewGenerator(newScriptedLLM(), ""), nil)
	w1, err := eng1.CreateWorkspace()
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if err := w1.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w1, model.StateSuccess)
	eng1.Stop()

	busy, err := eng1.CreateWorkspace()
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	row, _ := st.GetWorkspace(busy.ID())
	row.State = model.StateCoding
	if err := st.UpdateWorkspace(row); err != nil {
		t.Fatalf("update workspace: %v", err)
	}

	eng2 := testEngineWithStore(t, st, newScriptedLLM(), nil)
	w2, err := eng2.Workspace(w1.ID())
	if err != nil {
		t.Fatalf("restore workspace: %v", err)
	}
	sess := w2.Snapshot()
	if sess.State != model.StateSuccess || len(sess.Files) != 6 || !hasLog(sess, "Bot is running successfully!") {
		t.Fatalf("unexpected restored session: state=%s files=%d", sess.State, len(sess.Files))
	}

	interrupted, err := eng2.Workspace(busy.ID())
	if err != nil {
		t.Fatalf("restore busy workspace: %v", err)
	}
	if interrupted.State() != model.StateError {
		t.Fatalf("expected interrupted build to be marked ERROR, got %s", interrupted.State())
	}
}

func TestExport(t *testing.T) {
	pub := &stubPublisher{}
	eng := testEngineWithStore(t, newStore(t), newScriptedLLM(), pub)
	w := newWorkspace(t, eng)

	if _, err := w.Export(context.Background(), "quiz-bot", true); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected ErrNotBuilt, got %v", err)
	}
	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	waitForState(t, w, model.StateSuccess)

	url, err := w.Export(context.Background(), "quiz-bot", true)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if url != "https://github.com/alice/quiz-bot" || !pub.opts.Private || len(pub.opts.Files) != 6 {
		t.Fatalf("unexpected export: %s %+v", url, pub.opts)
	}

	pub.err = errors.New("name already exists")
	if _, err := w.Export(context.Background(), "quiz-bot", false); err == nil {
		t.Fatal("expected publisher error")
	}
}

func TestExportDisabled(t *testing.T) {
	w := newWorkspace(t, testEngine(t, newScriptedLLM()))
	if _, err := w.Export(context.Background(), "x", false); !errors.Is(err, ErrExportDisabled) {
		t.Fatalf("expected ErrExportDisabled, got %v", err)
	}
}

func TestStartBuildRemembersToken(t *testing.T) {
	eng := testEngine(t, newScriptedLLM())
	w := newWorkspace(t, eng)
	if err := w.StartBuild("A quiz bot", validToken, model.LibraryPTB); err != nil {
		t.Fatalf("start build: %v", err)
	}
	prefs, err := eng.Store().GetPreferences()
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	if prefs.LastToken != validToken {
		t.Fatalf("expected token to be remembered, got %q", prefs.LastToken)
	}
	waitForState(t, w, model.StateSuccess)
}
