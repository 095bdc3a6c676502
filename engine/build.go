package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jxucoder/botforge/model"
	"github.com/jxucoder/botforge/pipeline"
)

// buildInput is the immutable part of a build attempt.
type buildInput struct {
	epoch  uint64
	prompt string
	token  string
	lib    model.Library
	data   map[string]string
}

func (w *Workspace) input(epoch uint64) (buildInput, bool) {
	var in buildInput
	ok := w.apply(epoch, func() {
		in = buildInput{
			epoch:  epoch,
			prompt: w.sess.Prompt,
			token:  w.sess.Token,
			lib:    w.sess.Library,
			data:   w.sess.AdditionalData,
		}
	})
	return in, ok
}

// analyze runs the required inputs check and either suspends the attempt or
// continues straight into generation.
func (w *Workspace) analyze(ctx context.Context, epoch uint64) {
	in, ok := w.input(epoch)
	if !ok {
		return
	}
	if !w.apply(epoch, func() {
		w.appendLogLocked(model.LogInfo, "Analyzing your request for required inputs...")
	}) {
		return
	}

	inputs, err := w.eng.gen.CheckRequiredInputs(ctx, in.prompt)
	if err != nil {
		w.fail(epoch, "Analysis failed", err)
		return
	}

	if len(inputs) == 0 {
		w.generate(ctx, in)
		return
	}

	w.apply(epoch, func() {
		w.pending = &Suspension{
			Epoch:  epoch,
			Inputs: inputs,
			resume: func(data map[string]string) {
				in.data = data
				w.eng.spawn(func(ctx context.Context) {
					w.generate(ctx, in)
				})
			},
		}
		w.sess.RequiredInputs = inputs
		w.eng.emitJSON(w.id, model.EventInputs, inputs)
		w.setStateLocked(model.StateAwaitingInput)
	})
}

// generate runs structure planning through SUCCESS. Every step goes through
// the epoch guard; a reset abandons the attempt at the next step.
func (w *Workspace) generate(ctx context.Context, in buildInput) {
	epoch := in.epoch
	if !w.apply(epoch, func() {
		w.appendLogLocked(model.LogInfo, "Starting build process...")
		w.appendLogLocked(model.LogInfo, fmt.Sprintf("Phase 1: Planning bot architecture with AI (using %s)...", in.lib))
	}) {
		return
	}

	structure, err := w.eng.gen.PlanStructure(ctx, in.prompt, in.data, in.lib)
	if err != nil {
		w.fail(epoch, "Build failed", err)
		return
	}

	if !w.apply(epoch, func() {
		w.sess.BotUsername = structure.BotUsername
		w.appendLogLocked(model.LogSuccess, "Architecture plan received.")
		w.setStateLocked(model.StateCoding)
		w.appendLogLocked(model.LogInfo, "Phase 2: Generating code for each file...")
		w.putFileLocked("README.md", pipeline.Readme(in.prompt, in.lib, structure.RunCmd))
	}) {
		return
	}

	// One file at a time: each call completes and is applied before the
	// next starts.
	for _, file := range structure.Files {
		if !w.apply(epoch, func() {
			w.appendLogLocked(model.LogInfo, fmt.Sprintf("- Generating code for `%s`...", file.Name))
		}) {
			return
		}
		fc, err := w.eng.gen.GenerateFile(ctx, in.prompt, in.data, structure, file, in.lib)
		if err != nil {
			w.fail(epoch, "Build failed", err)
			return
		}
		if !w.apply(epoch, func() {
			w.putFileLocked(file.Name, pipeline.SubstituteToken(fc.Code, in.token))
		}) {
			return
		}
	}

	if !w.apply(epoch, func() {
		w.appendLogLocked(model.LogSuccess, "All code files generated.")
		w.appendLogLocked(model.LogInfo, "Generating `Dockerfile` and `requirements.txt`...")
	}) {
		return
	}

	setup, err := w.eng.gen.GenerateSetupFiles(ctx, in.prompt, in.data, structure, in.lib)
	if err != nil {
		w.fail(epoch, "Build failed", err)
		return
	}
	if !w.apply(epoch, func() {
		w.putFileLocked("requirements.txt", pipeline.SubstituteToken(setup.RequirementsTxt, in.token))
		w.putFileLocked("Dockerfile", pipeline.SubstituteToken(setup.Dockerfile, in.token))
	}) {
		return
	}

	if !w.simulateRun(ctx, epoch, structure.RunCmd,
		"Phase 3: Simulating Docker build and container run...", "Build successful. Starting bot...") {
		return
	}

	var files []model.GeneratedFile
	if !w.apply(epoch, func() {
		w.appendLogLocked(model.LogError, "Runtime error detected!")
		w.appendLogLocked(model.LogError, pipeline.SyntheticErrorTrace)
		w.setStateLocked(model.StateDebugging)
		w.appendLogLocked(model.LogInfo, "Phase 4: Initiating AI-driven debugging...")
		files = w.files.Files()
	}) {
		return
	}

	fix, err := w.eng.gen.Debug(ctx, in.prompt, in.data, files, pipeline.SyntheticErrorTrace, in.lib)
	if err != nil {
		w.fail(epoch, "Build failed", err)
		return
	}

	if !w.apply(epoch, func() {
		w.appendLogLocked(model.LogSuccess, "AI has proposed a fix. Applying changes...")
		for _, ff := range fix.FixedFiles {
			if w.replaceFileLocked(ff.Name, pipeline.SubstituteToken(ff.Code, in.token)) {
				w.appendLogLocked(model.LogInfo, fmt.Sprintf("- Updated `%s`: %s", ff.Name, ff.ChangesSummary))
			} else {
				w.appendLogLocked(model.LogInfo, fmt.Sprintf("- Skipped `%s`: no such file in the project", ff.Name))
			}
		}
		w.appendLogLocked(model.LogInfo, "Restarting process with fixes...")
	}) {
		return
	}

	if !w.simulateRun(ctx, epoch, structure.RunCmd, "", "Rebuild successful.") {
		return
	}

	var botUsername string
	if !w.apply(epoch, func() {
		w.setStateLocked(model.StateSuccess)
		w.appendLogLocked(model.LogSuccess, "Bot is running successfully!")
		w.eng.emitEvent(w.id, model.EventDone, w.sess.BotUsername)
		botUsername = w.sess.BotUsername
	}) {
		return
	}

	w.sim.Start(botUsername)
	// A reset between SUCCESS and the start above must not leave a run behind.
	if !w.current(epoch) {
		w.sim.Close()
	}
}

// simulateRun performs the scripted BUILDING then RUNNING steps. It reports
// false when the attempt was abandoned.
func (w *Workspace) simulateRun(ctx context.Context, epoch uint64, runCmd, intro, builtMsg string) bool {
	if !w.apply(epoch, func() {
		w.setStateLocked(model.StateBuilding)
		if intro != "" {
			w.appendLogLocked(model.LogInfo, intro)
		}
		present := make(map[string]bool, w.files.Len())
		for _, name := range w.files.Names() {
			present[name] = true
		}
		for _, cmd := range pipeline.BuildCommands(present) {
			w.appendLogLocked(model.LogCommand, cmd)
		}
	}) {
		return false
	}
	if !sleep(ctx, w.eng.config.BuildDelay) {
		return false
	}

	if !w.apply(epoch, func() {
		w.appendLogLocked(model.LogSuccess, builtMsg)
		w.setStateLocked(model.StateRunning)
		w.appendLogLocked(model.LogCommand, runCmd)
	}) {
		return false
	}
	return sleep(ctx, w.eng.config.RunDelay)
}

// fail moves the attempt to ERROR. The full error goes to the server log;
// the session keeps a readable message and every file generated so far.
func (w *Workspace) fail(epoch uint64, prefix string, err error) {
	detail := err.Error()
	var malformed *pipeline.MalformedResponseError
	if errors.As(err, &malformed) {
		detail = fmt.Sprintf("%v (raw response: %s)", err, model.Truncate(malformed.Raw, 2000))
	}

	applied := w.apply(epoch, func() {
		log.Printf("Workspace %s: %s: %s", w.id, prefix, detail)
		msg := fmt.Sprintf("%s: %v", prefix, err)
		w.sess.Error = msg
		w.appendLogLocked(model.LogError, msg)
		w.setStateLocked(model.StateError)
		w.eng.emitEvent(w.id, model.EventError, msg)
	})
	if !applied {
		log.Printf("Workspace %s: ignoring failure of a superseded build: %v", w.id, err)
	}
}
