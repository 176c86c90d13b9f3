package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/chatpilot/pkg/config"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "chatpilot",
		Short: "Personalized chat service with multi-provider LLM support",
		Long: strings.TrimSpace(`chatpilot serves a personalized chat API backed by interchangeable
LLM providers, per-user context with rolling summarization, and web search.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Println(formatVersion())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newServeCommand())
	root.AddCommand(newOnboardCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".chatpilot", "config.json")
}

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the chat API server (foreground)",
		Example: "  chatpilot serve\n  chatpilot serve --config ./config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")

	return cmd
}

func newOnboardCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default config file",
		Example: "  chatpilot onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config already exists at %s", configPath)
			}
			if err := config.SaveConfig(configPath, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(formatVersion())
		},
	}
}
