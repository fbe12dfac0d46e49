// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
	"github.com/mlplatform/dataset-sdk/pkg/initializer"
)

// DefaultConfig returns the default configuration file contents.
func DefaultConfig() map[string]any {
	def := initializer.DefaultConfig()
	return map[string]any{
		initializer.KeyAccessKeyID:     "",
		initializer.KeySecretAccessKey: "",
		initializer.KeyRegion:          def.Credential.Region,
		initializer.KeyAPIEndpoint:     def.APIEndpoint,
		initializer.KeyTOSEndpoint:     def.TOSEndpoint,
		initializer.KeyOutput:          def.Output,
		initializer.KeyChunkSize:       def.ChunkSize,
		initializer.KeyStrictDirs:      def.StrictDirs,
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd(a))
	cmd.AddCommand(newConfigShowCmd(a))
	cmd.AddCommand(newConfigPathCmd(a))

	return cmd
}

func (a *app) configPath() string {
	if a.ro.Config != "" {
		return a.ro.Config
	}
	return defaultConfigPath()
}

func newConfigInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/mlpdataset.yaml

The configuration file sets default values for the global flags.
Environment variables (MLP_*) override it, and CLI flags override both.`,
		// The file may not parse yet; skip configuration loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := a.configPath()
			if configPath == "" {
				return fmt.Errorf("could not find home directory")
			}

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
			}
			if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			data, err := yaml.Marshal(DefaultConfig())
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, data, 0o600); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created config file: %s\n\n", configPath)
			fmt.Fprintln(out, "Edit this file to set your defaults, for example your access key,")
			fmt.Fprintln(out, "secret key and default output directory.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := initializer.Global()
			view := map[string]any{
				initializer.KeyAccessKeyID:     credential.Mask(cfg.Credential.AccessKeyID),
				initializer.KeySecretAccessKey: credential.Mask(cfg.Credential.SecretAccessKey),
				initializer.KeyRegion:          cfg.Credential.Region,
				initializer.KeyAPIEndpoint:     cfg.APIEndpoint,
				initializer.KeyTOSEndpoint:     cfg.TOSEndpoint,
				initializer.KeyOutput:          cfg.Output,
				initializer.KeyChunkSize:       cfg.ChunkSize,
				initializer.KeyStrictDirs:      cfg.StrictDirs,
			}
			data, err := yaml.Marshal(view)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			configPath := a.configPath()
			if _, err := os.Stat(configPath); err != nil {
				fmt.Fprintf(out, "No config file found (run 'mlpdataset config init' to create %s)\n\n", configPath)
			} else {
				fmt.Fprintf(out, "Config file: %s\n\n", configPath)
			}
			fmt.Fprint(out, string(data))
			return nil
		},
	}
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), a.configPath())
		},
	}
}
