package botforge

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jxucoder/botforge/engine"
	"github.com/jxucoder/botforge/eventbus"
	ghProvider "github.com/jxucoder/botforge/gitprovider/github"
	"github.com/jxucoder/botforge/llm"
	llmAnthropic "github.com/jxucoder/botforge/llm/anthropic"
	llmGemini "github.com/jxucoder/botforge/llm/gemini"
	llmOpenAI "github.com/jxucoder/botforge/llm/openai"
	"github.com/jxucoder/botforge/pipeline"
	sqliteStore "github.com/jxucoder/botforge/store/sqlite"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7080"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "botforge.db")
	}
	def := engine.DefaultConfig()
	if b.config.Engine.BuildDelay == 0 {
		b.config.Engine.BuildDelay = def.BuildDelay
	}
	if b.config.Engine.RunDelay == 0 {
		b.config.Engine.RunDelay = def.RunDelay
	}

	// Generator first: a missing LLM should fail before any file is created.
	if b.generator == nil {
		if b.llm == nil {
			b.llm = llmClientFromEnv()
		}
		if b.llm == nil {
			return fmt.Errorf("no LLM configured: set ANTHROPIC_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY")
		}
		b.generator = pipeline.NewGenerator(b.llm, b.config.SystemPrompt)
	}

	// Store.
	if b.store == nil {
		if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// Export publisher.
	if b.publisher == nil && !b.noPublisher {
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			b.publisher = ghProvider.NewClient(token)
		}
	}

	return nil
}

// llmClientFromEnv creates an LLM client from environment variables.
// Returns nil if no API key is found.
func llmClientFromEnv() llm.Client {
	model := os.Getenv("BOTFORGE_LLM_MODEL")
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return llmAnthropic.New(key, model)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return llmOpenAI.New(key, model)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return llmGemini.New(key, model)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botforge"
	}
	return filepath.Join(home, ".botforge")
}
