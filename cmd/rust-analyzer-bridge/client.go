package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"rockerboo/rust-analyzer-bridge/apiclient"
)

func (o *rootOptions) client() *apiclient.Client {
	return apiclient.NewForAddr(o.bind, o.httpPort())
}

func printJSON(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(raw))
	return err
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var wait int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			if wait > 0 {
				if _, err := c.WaitHealthy(cmd.Context(), wait, 500*time.Millisecond); err != nil {
					return err
				}
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().IntVar(&wait, "wait", 0, "health-check attempts (500ms apart) before querying")
	return cmd
}

func newWorkspaceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workspace [path]",
		Short: "Show the daemon's workspace, or switch it to path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			if len(args) == 0 {
				ws, err := c.Workspace(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ws)
			}
			ws, err := c.SetWorkspace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ws)
		},
	}
}

func newCallCmd(opts *rootOptions) *cobra.Command {
	var kv []string
	var raw string
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Run one tool against a running daemon",
		Example: `  rust-analyzer-bridge call rust_analyzer_hover --arg file_path=src/lib.rs --arg line=3 --arg character=7
  rust-analyzer-bridge call rust_analyzer_workspace_symbol --json '{"query":"Config"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := parseCallArgs(kv, raw)
			if err != nil {
				return err
			}
			resp, err := opts.client().Call(cmd.Context(), args[0], callArgs)
			if err != nil {
				return err
			}
			if resp.Empty {
				fmt.Fprintf(cmd.ErrOrStderr(), "no results after %d attempts\n", resp.Attempts)
			}
			_, err = cmd.OutOrStdout().Write(pretty.Pretty(resp.Result))
			return err
		},
	}
	cmd.Flags().StringArrayVar(&kv, "arg", nil, "tool argument as key=value (repeatable); integers are sent as numbers")
	cmd.Flags().StringVar(&raw, "json", "", "tool arguments as a JSON object")
	return cmd
}

// parseCallArgs merges --json and --arg; --arg wins on conflicts.
func parseCallArgs(kv []string, raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("--json: %w", err)
		}
	}
	for _, pair := range kv {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--arg %q: want key=value", pair)
		}
		if n, err := strconv.Atoi(value); err == nil {
			out[key] = n
		} else {
			out[key] = value
		}
	}
	return out, nil
}
