package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8080"

// Execute runs the operator CLI against a callsim server.
func Execute() error {
	root := silenceUsageAndErrors(&cobra.Command{
		Use:   "callsim",
		Short: "Drive simulated interview calls on a callsim server.",
	})

	server := defaultServer
	if env := strings.TrimSpace(os.Getenv("CALLSIM_SERVER")); env != "" {
		server = env
	}
	root.PersistentFlags().StringVar(&server, "server", server, "base URL of the callsim server")

	root.AddCommand(newStartCmd(&server))
	root.AddCommand(newStopCmd(&server))
	root.AddCommand(newGetCmd(&server))
	root.AddCommand(newListCmd(&server))
	return root.Execute()
}

func newStartCmd(server *string) *cobra.Command {
	var scenario string
	var persona string
	var durationSeconds int

	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "start",
		Short: "Start a new simulated interview run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"scenario":         scenario,
				"persona":          persona,
				"duration_seconds": durationSeconds,
			}
			return postJSON(cmd.OutOrStdout(), *server, "/api/runs", payload)
		},
	})
	cmd.Flags().StringVar(&scenario, "scenario", "general-screen", "scenario name")
	cmd.Flags().StringVar(&persona, "persona", "", "candidate persona overlay")
	cmd.Flags().IntVar(&durationSeconds, "duration", 0, "duration bound in seconds (server default when 0)")
	return cmd
}

func newStopCmd(server *string) *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "stop <run-id>",
		Short: "Stop a run and tear down its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(cmd.OutOrStdout(), *server, "/api/runs/"+args[0]+"/stop", map[string]any{})
		},
	})
}

func newGetCmd(server *string) *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run with its events and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(cmd.OutOrStdout(), *server, "/api/runs/"+args[0])
		},
	})
}

func newListCmd(server *string) *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "list",
		Short: "List all runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(cmd.OutOrStdout(), *server, "/api/runs")
		},
	})
}

func silenceUsageAndErrors(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func postJSON(out io.Writer, server, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := httpClient().Post(strings.TrimRight(server, "/")+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(out, resp)
}

func getJSON(out io.Writer, server, path string) error {
	resp, err := httpClient().Get(strings.TrimRight(server, "/") + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(out, resp)
}

func printResponse(out io.Writer, resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Write(raw)
	}
	fmt.Fprintln(out, pretty.String())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
