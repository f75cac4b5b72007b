package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	apiURL  string
)

func main() {
	root := &cobra.Command{
		Use:   "hexstrike",
		Short: "Autonomous security workflow orchestrator",
		Long: "hexstrike runs security skills as multi-step jobs: tool invocations and\n" +
			"tiered LLM analysis with caching, approval gates, and operator notifications.",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "base URL of a running hexstrike server")

	root.AddCommand(
		newServeCmd(),
		newSubmitCmd(),
		newGoalCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newUsageCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
