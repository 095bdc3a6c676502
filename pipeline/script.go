package pipeline

import (
	"fmt"
	"strings"

	"github.com/jxucoder/botforge/model"
)

// SyntheticErrorTrace is the fixed runtime failure every pipeline run
// reports after its first simulated start. Nothing is actually executed.
const SyntheticErrorTrace = `Traceback (most recent call last):
  File "src/handlers.py", line 25, in handle_message
    await update.message.reply_html(f"Echo: {text")
SyntaxError: EOL while scanning string literal`

// SubstituteToken replaces every credential placeholder in code with token.
func SubstituteToken(code, token string) string {
	return strings.ReplaceAll(code, PlaceholderToken, token)
}

// Readme builds the README.md that heads every generated project.
func Readme(userPrompt string, lib model.Library, runCmd string) string {
	return fmt.Sprintf("# %s\n\n"+
		"This bot was generated by BotForge for the %s library.\n\n"+
		"To run locally:\n"+
		"1. Install dependencies: `pip install -r requirements.txt`\n"+
		"2. Set environment variables (e.g., BOT_TOKEN).\n"+
		"3. Run the bot: `%s`\n", userPrompt, lib, runCmd)
}

// BuildCommands returns the commands shown for the simulated build, chosen
// from the packaging files present in the project.
func BuildCommands(existingFiles map[string]bool) []string {
	switch {
	case existingFiles["Dockerfile"]:
		return []string{"docker build -t bot-image ."}
	case existingFiles["requirements.txt"]:
		return []string{"pip install -r requirements.txt"}
	case existingFiles["pyproject.toml"]:
		return []string{"pip install ."}
	}
	return nil
}
