package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"shelfscan/internal/config"
	"shelfscan/internal/deps"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand())
	configCmd.AddCommand(newConfigShowCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := os.WriteFile(target, []byte(config.SampleConfig()), 0o644); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the file to set the job store credential and LLM api_key before running the worker.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load("")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")

			fmt.Fprintln(out, "\nExternal tools:")
			for _, status := range deps.CheckBinaries(deps.MediaRequirements(cfg.Media)) {
				marker := "ok"
				if !status.Available {
					marker = "missing"
					if status.Optional {
						marker = "missing (optional)"
					}
				}
				fmt.Fprintf(out, "  %-16s %-18s %s\n", status.Name, marker, status.Command)
				if status.Detail != "" {
					fmt.Fprintf(out, "  %-16s %s\n", "", status.Detail)
				}
			}
			return nil
		},
	}
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load("")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s (exists: %v)\n\n", path, exists)
			fmt.Fprintf(out, "work_dir:           %s\n", cfg.Paths.WorkDir)
			fmt.Fprintf(out, "log_dir:            %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "cache_dir:          %s\n", cfg.Paths.CacheDir)
			fmt.Fprintf(out, "jobstore base_url:  %s\n", cfg.JobStore.BaseURL)
			fmt.Fprintf(out, "worker id:          %s\n", valueOr(cfg.Worker.ID, "<generated>"))
			fmt.Fprintf(out, "poll interval:      %ds\n", cfg.Worker.PollInterval)
			fmt.Fprintf(out, "heartbeat interval: %ds\n", cfg.Worker.HeartbeatInterval)
			fmt.Fprintf(out, "llm model:          %s\n", cfg.LLM.Model)
			fmt.Fprintf(out, "scene threshold:    %g\n", cfg.Media.SceneThreshold)
			fmt.Fprintf(out, "cluster threshold:  %d\n", cfg.Media.ClusterThreshold)
			fmt.Fprintf(out, "vision cache:       %v (%s)\n", cfg.Cache.Enabled, cfg.Cache.Path)
			fmt.Fprintf(out, "log format/level:   %s/%s\n", cfg.Logging.Format, cfg.Logging.Level)
			return nil
		},
	}
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
