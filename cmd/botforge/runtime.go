package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jxucoder/botforge/model"
)

var runtimeCmd = &cobra.Command{
	Use:   "runtime",
	Short: "Control the simulated bot process",
}

var runtimeStartCmd = &cobra.Command{
	Use:   "start [workspace-id]",
	Short: "Start the simulated bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runtimeAction(args[0], "start")
	},
}

var runtimeStopCmd = &cobra.Command{
	Use:   "stop [workspace-id]",
	Short: "Stop the simulated bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runtimeAction(args[0], "stop")
	},
}

var runtimeWatchCmd = &cobra.Command{
	Use:   "watch [workspace-id]",
	Short: "Follow the simulated bot's log until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuntimeWatch,
}

var exportPrivate bool

var exportCmd = &cobra.Command{
	Use:   "export [workspace-id] [repo-name]",
	Short: "Publish the generated project to a new GitHub repository",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport,
}

var resetCmd = &cobra.Command{
	Use:   "reset [workspace-id]",
	Short: "Clear a workspace and stop its bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodPost, workspaceURL(args[0], "reset"), nil, http.StatusOK, nil); err != nil {
			return err
		}
		fmt.Printf("Workspace %s reset\n", args[0])
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [workspace-id]",
	Short: "Discard a build that is waiting for inputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodPost, workspaceURL(args[0], "inputs", "cancel"), nil, http.StatusOK, nil); err != nil {
			return err
		}
		fmt.Println("Build cancelled")
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportPrivate, "private", false, "create a private repository")
	runtimeCmd.AddCommand(runtimeStartCmd, runtimeStopCmd, runtimeWatchCmd)
	rootCmd.AddCommand(runtimeCmd, exportCmd, resetCmd, cancelCmd)
}

func runtimeAction(id, action string) error {
	var status model.RuntimeStatus
	if err := call(http.MethodPost, workspaceURL(id, "runtime", action), nil, http.StatusOK, &status); err != nil {
		return err
	}
	if status.Running {
		fmt.Printf("Bot running, %s remaining\n", formatRemaining(status.SecondsRemaining))
	} else {
		fmt.Println("Bot stopped")
	}
	return nil
}

func runRuntimeWatch(cmd *cobra.Command, args []string) error {
	url := "ws" + strings.TrimPrefix(workspaceURL(args[0], "runtime", "ws"), "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		if resp != nil {
			return serverError(resp)
		}
		return fmt.Errorf("connecting to runtime stream: %w", err)
	}
	defer conn.Close()

	var status model.RuntimeStatus
	if err := conn.ReadJSON(&status); err != nil {
		return fmt.Errorf("reading runtime status: %w", err)
	}
	for _, e := range status.Log {
		fmt.Println(renderLog(e))
	}
	if status.Running {
		fmt.Println(dimStyle.Render(fmt.Sprintf("-- running, %s remaining --", formatRemaining(status.SecondsRemaining))))
	} else {
		fmt.Println(dimStyle.Render("-- stopped --"))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var e model.LogEntry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		fmt.Println(renderLog(e))
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	body := map[string]any{"repo": args[1], "private": exportPrivate}
	var out struct {
		URL string `json:"url"`
	}
	if err := call(http.MethodPost, workspaceURL(args[0], "export"), body, http.StatusCreated, &out); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", successStyle.Render("✓ Repository created:"), out.URL)
	return nil
}
