// Package pipeline turns a bot description into generated project files by
// driving an LLM through a fixed set of prompts. Each stage is a single
// completion call whose reply is reduced to JSON and decoded into a schema.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/jxucoder/botforge/llm"
	"github.com/jxucoder/botforge/model"
)

// TransportError means the generation call itself could not complete.
type TransportError struct {
	Stage string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: generation request failed: %v", e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError means the call succeeded but the reply did not
// decode into the expected schema.
type MalformedResponseError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Stage, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Generator is the generation client. It admits one completion call at a
// time: the upstream service enforces a request-rate ceiling, so callers that
// share a Generator are serialized rather than fanned out.
type Generator struct {
	llm          llm.Client
	systemPrompt string
	gate         *semaphore.Weighted
}

// NewGenerator creates a generator. Pass empty systemPrompt to use the default.
func NewGenerator(client llm.Client, systemPrompt string) *Generator {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Generator{
		llm:          client,
		systemPrompt: systemPrompt,
		gate:         semaphore.NewWeighted(1),
	}
}

// Generate submits prompt and returns the JSON payload found in the reply.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, "generate", prompt)
}

func (g *Generator) generate(ctx context.Context, stage, prompt string) (string, error) {
	if err := g.gate.Acquire(ctx, 1); err != nil {
		return "", &TransportError{Stage: stage, Err: err}
	}
	defer g.gate.Release(1)

	text, err := g.llm.Complete(ctx, g.systemPrompt, prompt)
	if err != nil {
		return "", &TransportError{Stage: stage, Err: err}
	}
	return ExtractJSON(text), nil
}

func (g *Generator) call(ctx context.Context, stage, prompt string, v any) (string, error) {
	payload, err := g.generate(ctx, stage, prompt)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return payload, &MalformedResponseError{Stage: stage, Raw: payload, Err: err}
	}
	return payload, nil
}

func malformed(stage, raw, format string, args ...any) error {
	return &MalformedResponseError{Stage: stage, Raw: raw, Err: fmt.Errorf(format, args...)}
}

// --- Schemas ---

type requiredInputsReply struct {
	RequiredInputs *[]struct {
		Name        string `json:"name"`
		Label       string `json:"label"`
		Type        string `json:"type"`
		Description string `json:"description"`
		Required    *bool  `json:"required"`
	} `json:"required_inputs"`
}

// PlannedFile is one source file in the structure plan.
type PlannedFile struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose"`
	IsRequired bool   `json:"is_required"`
}

// Structure is the planned project layout.
type Structure struct {
	Files               []PlannedFile `json:"files"`
	Requirements        []string      `json:"requirements"`
	RunCmd              string        `json:"run_cmd"`
	DockerEntry         []string      `json:"docker_entry"`
	EstimatedComplexity string        `json:"estimated_complexity"`
	BotUsername         string        `json:"bot_username"`

	// Raw is the plan exactly as returned, passed back verbatim to later
	// prompts.
	Raw string `json:"-"`
}

// FileCode is the generated content of one planned file.
type FileCode struct {
	FileName string `json:"file_name"`
	Code     string `json:"code"`
	Notes    string `json:"notes"`
}

// SetupFiles are the generated packaging files.
type SetupFiles struct {
	RequirementsTxt string `json:"requirements_txt"`
	Dockerfile      string `json:"dockerfile"`
	InstallCmd      string `json:"install_cmd"`
}

// FixedFile is a replacement for one existing project file.
type FixedFile struct {
	Name           string `json:"name"`
	Code           string `json:"code"`
	ChangesSummary string `json:"changes_summary"`
}

// DebugFix is the proposed fix for a runtime error.
type DebugFix struct {
	FixedFiles          []FixedFile `json:"fixed_files"`
	UpdatedRequirements []string    `json:"updated_requirements"`
	RetryCmd            string      `json:"retry_cmd"`
}

// --- Stages ---

// CheckRequiredInputs asks which extra configuration values the described bot
// needs besides its token. An empty slice means none.
func (g *Generator) CheckRequiredInputs(ctx context.Context, userPrompt string) ([]model.RequiredInput, error) {
	const stage = "required inputs"
	var reply requiredInputsReply
	raw, err := g.call(ctx, stage, RequiredInputsPrompt(userPrompt), &reply)
	if err != nil {
		return nil, err
	}
	if reply.RequiredInputs == nil {
		return nil, malformed(stage, raw, "missing required_inputs")
	}

	inputs := make([]model.RequiredInput, 0, len(*reply.RequiredInputs))
	for _, in := range *reply.RequiredInputs {
		if in.Name == "" {
			return nil, malformed(stage, raw, "required input without a name")
		}
		ri := model.RequiredInput{
			Name:        in.Name,
			Label:       in.Label,
			Kind:        model.InputText,
			Description: in.Description,
			Required:    true,
		}
		if ri.Label == "" {
			ri.Label = in.Name
		}
		if in.Type == string(model.InputPassword) {
			ri.Kind = model.InputPassword
		}
		if in.Required != nil {
			ri.Required = *in.Required
		}
		inputs = append(inputs, ri)
	}
	return inputs, nil
}

// PlanStructure designs the project layout.
func (g *Generator) PlanStructure(ctx context.Context, userPrompt string, data map[string]string, lib model.Library) (*Structure, error) {
	const stage = "structure"
	var s Structure
	raw, err := g.call(ctx, stage, StructurePrompt(userPrompt, data, lib), &s)
	if err != nil {
		return nil, err
	}
	if len(s.Files) == 0 {
		return nil, malformed(stage, raw, "plan has no files")
	}
	for _, f := range s.Files {
		if f.Name == "" {
			return nil, malformed(stage, raw, "planned file without a name")
		}
	}
	if s.RunCmd == "" {
		return nil, malformed(stage, raw, "plan has no run_cmd")
	}
	s.Raw = raw
	return &s, nil
}

// GenerateFile writes the code for one planned file.
func (g *Generator) GenerateFile(ctx context.Context, userPrompt string, data map[string]string, s *Structure, file PlannedFile, lib model.Library) (*FileCode, error) {
	stage := "code " + file.Name
	var fc FileCode
	raw, err := g.call(ctx, stage, FileCodePrompt(userPrompt, data, s.Raw, file, lib), &fc)
	if err != nil {
		return nil, err
	}
	if fc.Code == "" {
		return nil, malformed(stage, raw, "reply has no code")
	}
	return &fc, nil
}

// GenerateSetupFiles writes requirements.txt and the Dockerfile.
func (g *Generator) GenerateSetupFiles(ctx context.Context, userPrompt string, data map[string]string, s *Structure, lib model.Library) (*SetupFiles, error) {
	const stage = "setup files"
	var sf SetupFiles
	raw, err := g.call(ctx, stage, SetupFilesPrompt(userPrompt, data, s.Raw, lib), &sf)
	if err != nil {
		return nil, err
	}
	if sf.RequirementsTxt == "" || sf.Dockerfile == "" {
		return nil, malformed(stage, raw, "reply is missing requirements_txt or dockerfile")
	}
	return &sf, nil
}

// Debug proposes file replacements that fix errorLog.
func (g *Generator) Debug(ctx context.Context, userPrompt string, data map[string]string, files []model.GeneratedFile, errorLog string, lib model.Library) (*DebugFix, error) {
	const stage = "debug"
	var probe struct {
		FixedFiles *json.RawMessage `json:"fixed_files"`
	}
	raw, err := g.call(ctx, stage, DebugPrompt(userPrompt, data, files, errorLog, lib), &probe)
	if err != nil {
		return nil, err
	}
	if probe.FixedFiles == nil {
		return nil, malformed(stage, raw, "missing fixed_files")
	}
	var fix DebugFix
	if err := json.Unmarshal([]byte(raw), &fix); err != nil {
		return nil, &MalformedResponseError{Stage: stage, Raw: raw, Err: err}
	}
	return &fix, nil
}
