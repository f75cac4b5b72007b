package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// Thin HTTP client for the server's API. Each subcommand prints the JSON
// response body as-is so output stays scriptable.

func newSubmitCmd() *cobra.Command {
	var target string
	var paramsJSON string

	cmd := &cobra.Command{
		Use:   "submit <skill>",
		Short: "Submit a job for a named skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("parse --params: %w", err)
				}
			}
			return postJSON("/v1/jobs", map[string]any{
				"skill":  args[0],
				"params": params,
				"target": target,
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target host or domain")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "job parameters as a JSON object")
	return cmd
}

func newGoalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goal <free-form goal>",
		Short: "Plan a skill for a goal and submit it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := ""
			for i, a := range args {
				if i > 0 {
					goal += " "
				}
				goal += a
			}
			return postJSON("/v1/goals", map[string]any{"goal": goal})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one job, or recent jobs when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return getJSON("/v1/jobs/" + args[0])
			}
			return getJSON("/v1/jobs")
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/v1/jobs/"+args[0]+"/cancel", nil)
		},
	}
}

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show the token usage report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/v1/usage")
		},
	}
}

func getJSON(path string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(apiURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return printResponse(resp)
}

func postJSON(path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(apiURL+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
	} else {
		fmt.Println(pretty.String())
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
