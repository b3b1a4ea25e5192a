// Command orchestratord is the outer binary that loads configuration,
// assembles the orchestration core (internal/app.Bundle), and exposes it
// over either the HTTP translator (`serve`) or one-shot CLI subcommands
// (`project`, `workflow`), following the teacher's own cobra-based
// cmd/ layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quorumforge/aiorch/internal/config"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "Multi-tenant orchestration core for AI-assisted software projects",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default .aiorch/config.yaml)")

	loadConfig := func() (config.Config, error) {
		loader := config.NewLoader()
		if configFile != "" {
			loader = loader.WithConfigFile(configFile)
		}
		cfg, err := loader.Load()
		if err != nil {
			return config.Config{}, fmt.Errorf("loading config: %w", err)
		}
		if err := config.NewValidator().Validate(cfg); err != nil {
			return config.Config{}, fmt.Errorf("invalid config: %w", err)
		}
		return *cfg, nil
	}

	root.AddCommand(newServeCmd(loadConfig))
	root.AddCommand(newMigrateCmd(loadConfig))
	root.AddCommand(newProjectCmd(loadConfig))
	root.AddCommand(newWorkflowCmd(loadConfig))
	return root
}
