// BotForge - describe a Telegram bot, get a runnable Python project.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "botforge",
	Short: "BotForge - build Telegram bots from a description",
	Long: `BotForge turns a plain-language description into a runnable Python
Telegram bot project, then simulates running it.

  botforge serve                                   Start the server
  botforge build "echo every message" --token ...  Build a bot
  botforge list                                    List workspaces
  botforge status <id>                             Check workspace status
  botforge download <id>                           Save the project archive`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BOTFORGE_SERVER", "http://localhost:7080"), "BotForge server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
