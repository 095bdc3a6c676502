package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/jxucoder/botforge/model"
)

// DefaultSystemPrompt is the system prompt sent with every generation call.
const DefaultSystemPrompt = `You are BotForge, an assistant that designs and writes Python Telegram bots.

Every reply you give is consumed by a program, not a person. Output ONLY the
JSON object requested by the task, with no commentary before or after it.
Escape newlines and quotes inside JSON strings.`

// PlaceholderToken is the credential marker generated code may contain in
// place of the real bot token.
const PlaceholderToken = "YOUR_BOT_TOKEN"

// AdditionalDataString renders user-supplied values for inclusion in a prompt.
func AdditionalDataString(data map[string]string) string {
	if len(data) == 0 {
		return "No additional information was provided."
	}
	// encoding/json sorts map keys, which keeps prompts deterministic.
	b, _ := json.Marshal(data)
	return fmt.Sprintf("The user has provided the following additional information/keys: %s. "+
		"Use these values where appropriate in the code, for example, by reading them from "+
		"environment variables that match the key names.", b)
}

// RequiredInputsPrompt asks which extra secrets or settings the bot needs.
func RequiredInputsPrompt(userPrompt string) string {
	return fmt.Sprintf(`Analyze the user's request for a Telegram bot: %q. Determine if any additional secret keys, API tokens, user IDs, or configuration values are required.
IMPORTANT: NEVER ask for the 'Telegram Bot Token' as the user has already provided it.
If no extra inputs are needed, return a JSON object with an empty array: {"required_inputs": []}.
If inputs are needed, return a JSON object listing them. For each input, decide if it's truly required for the bot's core function. For example, a database URL might be optional if there's a fallback.
Use this exact schema: {"required_inputs": [{"name": "INPUT_NAME_IN_CAPS", "label": "User-Friendly Label", "type": "text", "description": "A brief explanation.", "required": true}]}.
Only use 'password' for sensitive data like API keys.`, userPrompt)
}

// StructurePrompt asks for the project layout, run command, and bot username.
func StructurePrompt(userPrompt string, data map[string]string, lib model.Library) string {
	return fmt.Sprintf(`You are an expert Telegram bot architect using Python and the %s library. The user wants a bot described as: %q. %s
Design a modular, professional file structure. All Python source code MUST go inside a 'src/' directory. A root 'README.md' is created separately; do not list it.
Come up with a creative and fitting Telegram username for this bot (e.g., @QuizMasterBot, @DailyJokeSender).
The structure should always include 'src/main.py', 'src/config.py', and 'src/handlers.py'. Add other files like 'src/utils.py' or 'src/database.py' only if necessary.
Analyze the prompt for features: handlers, external APIs, storage (SQLite), scheduling (APScheduler), etc.
Proactively include commonly required packages like 'requests' or 'aiohttp' in the requirements if the prompt implies any web requests.

Output ONLY a valid JSON object in this exact schema:
{
  "files": [
    {"name": "src/filename.py", "purpose": "brief description", "is_required": true}
  ],
  "requirements": ["package1==version"],
  "run_cmd": "python src/main.py",
  "docker_entry": ["python", "src/main.py"],
  "estimated_complexity": "low/medium/high",
  "bot_username": "@YourBotName"
}

Ensure the file paths are correct (e.g., "src/main.py"). The 'run_cmd' and 'docker_entry' must reflect this structure. Do not generate code yet.`,
		lib, userPrompt, AdditionalDataString(data))
}

// FileCodePrompt asks for the full content of one planned file.
func FileCodePrompt(userPrompt string, data map[string]string, structureJSON string, file PlannedFile, lib model.Library) string {
	return fmt.Sprintf(`You are a senior Python developer for Telegram bots, specializing in the %[1]s library.
User prompt: %[2]q.
User-provided data: %[3]s
Overall structure: %[4]s

Now, write the full, production-ready Python code for the file: `+"`%[5]s`"+` (purpose: %[6]s).

IMPORTANT: Since all code is in the 'src/' directory, use relative imports for local modules (e.g., `+"`from . import handlers`, `from .config import BOT_TOKEN`"+`).
For main.py, load the token and other keys from os.getenv(), set up the application/dispatcher, add handlers, and start polling.
If the token must appear literally, write the placeholder %[7]s.
For handlers.py, define async handler functions using the correct syntax for %[1]s.
Incorporate all features from the user prompt. Add logging and proper error handling. Keep code clean, commented, and under 500 lines.

Output ONLY a valid JSON object in this exact schema:
{
  "file_name": "%[5]s",
  "code": "full indented Python code as a string",
  "notes": "any setup instructions or notes"
}

Ensure the code is bug-free, compatible with Python 3.10+, and uses only the listed requirements.`,
		lib, userPrompt, AdditionalDataString(data), structureJSON, file.Name, file.Purpose, PlaceholderToken)
}

// SetupFilesPrompt asks for requirements.txt and a Dockerfile.
func SetupFilesPrompt(userPrompt string, data map[string]string, structureJSON string, lib model.Library) string {
	libReq := string(lib)
	if lib == model.LibraryPTB {
		libReq = "python-telegram-bot>=20.0"
	}
	return fmt.Sprintf(`Given the bot structure: %s, user prompt: %q, data: %s and chosen library: %s, generate a `+"`requirements.txt` and a `Dockerfile`"+`.
For requirements.txt, include `+"`%s`"+` and all other necessary packages (e.g., requests, aiosqlite).
For the Dockerfile, use a `+"`python:3.12-slim`"+` base image. The working directory should be `+"`/app`"+`. Copy all files and install dependencies. The final command must be `+"`CMD [\"python\", \"src/main.py\"]`"+` to match the project structure.

Output ONLY a valid JSON object in this exact schema:
{
  "requirements_txt": "exact content of requirements.txt",
  "dockerfile": "full content of Dockerfile",
  "install_cmd": "pip install -r requirements.txt"
}`, structureJSON, userPrompt, AdditionalDataString(data), lib, libReq)
}

// DebugPrompt asks for a minimal fix for a runtime error.
func DebugPrompt(userPrompt string, data map[string]string, files []model.GeneratedFile, errorLog string, lib model.Library) string {
	filesJSON, _ := json.Marshal(files)
	return fmt.Sprintf(`You are a debugging expert for Python Telegram bots using the %[1]s library.
Original prompt: %[2]q.
Additional data: %[3]s
Current project files (note the 'src/' structure): %[4]s
The bot failed with this error log:
%[5]s

Analyze the root cause (e.g., syntax error, missing import, incorrect relative import based on the %[1]s conventions). Propose a surgical fix by editing ONLY the necessary files.
If a module is missing, add it to 'requirements.txt' and import it where needed.

Output ONLY a valid JSON object in this exact schema:
{
  "fixed_files": [
    {"name": "path/to/filename.py", "code": "full new code string", "changes_summary": "brief bullet points of diffs"}
  ],
  "updated_requirements": ["new packages if any"],
  "retry_cmd": "python src/main.py"
}

Keep changes minimal to avoid regressions.`, lib, userPrompt, AdditionalDataString(data), filesJSON, errorLog)
}
