package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jxucoder/botforge/archive"
	"github.com/jxucoder/botforge/model"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all workspaces",
	RunE:  runList,
}

var statusCmd = &cobra.Command{
	Use:   "status [workspace-id]",
	Short: "Show the status of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var statusLog bool

var logsCmd = &cobra.Command{
	Use:   "logs [workspace-id]",
	Short: "Stream a workspace's build events until the build finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var filesCmd = &cobra.Command{
	Use:   "files [workspace-id] [file]",
	Short: "List generated files, or print one",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runFiles,
}

var downloadOutput string

var downloadCmd = &cobra.Command{
	Use:   "download [workspace-id]",
	Short: "Save the generated project as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return downloadArchive(args[0], downloadOutput)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusLog, "log", false, "include the build log")
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", archive.FileName, "output path")
	rootCmd.AddCommand(listCmd, statusCmd, logsCmd, filesCmd, downloadCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	var list []workspace
	if err := call(http.MethodGet, serverURL+"/api/workspaces", nil, http.StatusOK, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No workspaces found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tLIBRARY\tPROMPT\tUPDATED")
	for _, ws := range list {
		lib := string(ws.Library)
		if lib == "" {
			lib = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ws.ID, ws.State, lib, truncate(ws.Prompt, 50), humanize.Time(ws.UpdatedAt))
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := getWorkspace(args[0])
	if err != nil {
		return err
	}
	printStatus(ws, statusLog)
	return nil
}

func printStatus(ws *workspace, withLog bool) {
	fmt.Printf("%s %s\n", labelStyle.Render("Workspace:"), ws.ID)
	fmt.Printf("%s %s\n", labelStyle.Render("State:    "), renderState(ws.State))
	if ws.Prompt != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("Prompt:   "), ws.Prompt)
		fmt.Printf("%s %s\n", labelStyle.Render("Library:  "), ws.Library)
	}
	if ws.Token != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("Token:    "), ws.Token)
	}
	if ws.BotUsername != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("Bot:      "), ws.BotUsername)
	}
	if ws.Error != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("Error:    "), errorStyle.Render(ws.Error))
	}
	if ws.RuntimeRunning {
		fmt.Printf("%s running, %s remaining\n", labelStyle.Render("Runtime:  "), formatRemaining(ws.SecondsRemaining))
	} else if len(ws.RuntimeLog) > 0 {
		fmt.Printf("%s stopped\n", labelStyle.Render("Runtime:  "))
	}
	fmt.Printf("%s %s\n", labelStyle.Render("Created:  "), humanize.Time(ws.CreatedAt))
	fmt.Printf("%s %s\n", labelStyle.Render("Updated:  "), humanize.Time(ws.UpdatedAt))

	if len(ws.Files) > 0 {
		fmt.Printf("\n%s\n", labelStyle.Render("Files:"))
		for _, f := range ws.Files {
			fmt.Printf("  %-24s %s\n", f.Name, humanize.Bytes(uint64(len(f.Code))))
		}
	}
	if ws.State == model.StateAwaitingInput && len(ws.RequiredInputs) > 0 {
		fmt.Printf("\n%s\n", labelStyle.Render("Waiting for:"))
		for _, in := range ws.RequiredInputs {
			fmt.Printf("  %s (%s)\n", in.Name, in.Label)
		}
	}
	if withLog && len(ws.Log) > 0 {
		fmt.Printf("\n%s\n", labelStyle.Render("Log:"))
		for _, e := range ws.Log {
			fmt.Printf("  %s\n", renderLog(e))
		}
	}
}

func runLogs(cmd *cobra.Command, args []string) error {
	h := &buildWatcher{
		out: os.Stdout,
		onInputs: func(inputs []model.RequiredInput) error {
			names := make([]string, 0, len(inputs))
			for _, in := range inputs {
				names = append(names, in.Name)
			}
			fmt.Printf("%s %s\n", commandStyle.Render("waiting for inputs:"), strings.Join(names, ", "))
			return nil
		},
	}
	username, err := streamEvents(args[0], h)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s Bot is running as %s\n", successStyle.Render("✓"), username)
	return nil
}

func runFiles(cmd *cobra.Command, args []string) error {
	if len(args) == 2 {
		data, err := fetch(workspaceURL(args[0], "files", args[1]))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	var files []struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}
	data, err := fetch(workspaceURL(args[0], "files"))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &files); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No files generated yet.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\n", f.Name, humanize.Bytes(uint64(f.Size)))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
