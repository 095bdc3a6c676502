package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jxucoder/botforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the server configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	Long: `Write the defaults, merged with any API keys and tokens already set in the
environment, to the config file (default ~/.botforge/config.yaml).`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

func init() {
	configCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.botforge/config.yaml)")
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.Write(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(masked(*cfg))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

// masked returns a copy of cfg with every secret shortened to its last
// four characters.
func masked(cfg config.Config) config.Config {
	for _, s := range []*string{
		&cfg.LLM.AnthropicAPIKey,
		&cfg.LLM.OpenAIAPIKey,
		&cfg.LLM.GeminiAPIKey,
		&cfg.GitHubToken,
		&cfg.TelegramBotToken,
		&cfg.SlackBotToken,
		&cfg.SlackAppToken,
	} {
		*s = maskSecret(*s)
	}
	return cfg
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
