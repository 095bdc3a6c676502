package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jxucoder/botforge"
	"github.com/jxucoder/botforge/channel"
	channelSlack "github.com/jxucoder/botforge/channel/slack"
	channelTelegram "github.com/jxucoder/botforge/channel/telegram"
	"github.com/jxucoder/botforge/engine"
	ghProvider "github.com/jxucoder/botforge/gitprovider/github"
	"github.com/jxucoder/botforge/internal/config"
	"github.com/jxucoder/botforge/llm"
	llmAnthropic "github.com/jxucoder/botforge/llm/anthropic"
	llmGemini "github.com/jxucoder/botforge/llm/gemini"
	llmOpenAI "github.com/jxucoder/botforge/llm/openai"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BotForge server",
	Long:  "Start the BotForge API server with any configured chat front-ends.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.botforge/config.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := llmFromConfig(cfg.LLM)
	if err != nil {
		return err
	}

	engCfg := engine.DefaultConfig()
	engCfg.BuildDelay = cfg.Build.BuildDelay()
	engCfg.RunDelay = cfg.Build.RunDelay()
	engCfg.Simulator.Seconds = cfg.Build.RuntimeSeconds

	builder := botforge.NewBuilder().
		WithConfig(botforge.Config{
			ServerAddr:   cfg.ServerAddr,
			DataDir:      cfg.DataDir,
			DatabasePath: cfg.DatabasePath,
			Engine:       engCfg,
		}).
		WithLLM(client)

	if cfg.ExportEnabled() {
		builder.WithPublisher(ghProvider.NewClient(cfg.GitHubToken))
	} else {
		builder.WithPublisher(nil)
	}

	if cfg.SlackEnabled() {
		builder.WithChannel(func(eng *engine.Engine) (channel.Channel, error) {
			return channelSlack.NewBot(cfg.SlackBotToken, cfg.SlackAppToken, channel.NewRouter(eng)), nil
		})
		fmt.Println("Slack bot enabled (Socket Mode)")
	}
	if cfg.TelegramEnabled() {
		builder.WithChannel(func(eng *engine.Engine) (channel.Channel, error) {
			bot, err := channelTelegram.NewBot(cfg.TelegramBotToken, channel.NewRouter(eng))
			if err != nil {
				return nil, fmt.Errorf("initializing Telegram bot: %w", err)
			}
			return bot, nil
		})
		fmt.Println("Telegram bot enabled (long polling)")
	}

	app, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}

// llmFromConfig picks the configured provider, or the first one with a key.
func llmFromConfig(c config.LLMConfig) (llm.Client, error) {
	provider := c.Provider
	if provider == "" {
		switch {
		case c.AnthropicAPIKey != "":
			provider = "anthropic"
		case c.OpenAIAPIKey != "":
			provider = "openai"
		case c.GeminiAPIKey != "":
			provider = "gemini"
		}
	}

	switch provider {
	case "anthropic":
		return llmAnthropic.New(c.AnthropicAPIKey, c.Model), nil
	case "openai":
		return llmOpenAI.New(c.OpenAIAPIKey, c.Model), nil
	case "gemini":
		return llmGemini.New(c.GeminiAPIKey, c.Model), nil
	}
	return nil, fmt.Errorf("no LLM provider configured")
}
