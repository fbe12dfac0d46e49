// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mlplatform/dataset-sdk/internal/logging"
	"github.com/mlplatform/dataset-sdk/pkg/initializer"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogFile  string
	LogLevel string
}

// app is shared by every subcommand once the root pre-run has loaded the
// configuration.
type app struct {
	ro  *RootOpts
	v   *viper.Viper
	log *zap.Logger
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := newRootCmd(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newRootCmd(version string) *cobra.Command {
	a := &app{ro: &RootOpts{}, v: viper.New(), log: zap.NewNop()}
	ro := a.ro

	root := &cobra.Command{
		Use:           "mlpdataset",
		Short:         "Download and copy ML platform datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events")
	pf.BoolVarP(&ro.Quiet, "quiet", "q", false, "Plain line output instead of the live progress bar")
	pf.BoolVarP(&ro.Verbose, "verbose", "v", false, "Debug logging")
	pf.StringVar(&ro.Config, "config", "", "Path to config file (default ~/.config/mlpdataset.yaml)")
	pf.StringVar(&ro.LogFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	pf.StringVar(&ro.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	pf.String("access-key", "", "Access key ID (env MLP_ACCESS_KEY_ID)")
	pf.String("secret-key", "", "Secret access key (env MLP_SECRET_ACCESS_KEY)")
	pf.String("session-token", "", "Session token (env MLP_SESSION_TOKEN)")
	pf.String("region", "", "Region (env MLP_REGION)")
	pf.String("api-endpoint", "", "Metadata API endpoint")
	pf.String("tos-endpoint", "", "Object storage endpoint")
	pf.Int("chunk-size", 0, "HTTP download write size in bytes")
	pf.Bool("strict-dirs", false, "Fail when a destination directory cannot be created")

	bindings := map[string]string{
		initializer.KeyAccessKeyID:     "access-key",
		initializer.KeySecretAccessKey: "secret-key",
		initializer.KeySessionToken:    "session-token",
		initializer.KeyRegion:          "region",
		initializer.KeyAPIEndpoint:     "api-endpoint",
		initializer.KeyTOSEndpoint:     "tos-endpoint",
		initializer.KeyChunkSize:       "chunk-size",
		initializer.KeyStrictDirs:      "strict-dirs",
	}
	for key, flag := range bindings {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	downloadCmd := newDownloadCmd(a)
	root.AddCommand(downloadCmd)
	root.AddCommand(newCopyCmd(a))
	root.AddCommand(newDescribeCmd(a))
	root.AddCommand(newServeCmd(a, version))
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newConfigCmd(a))

	// download is the default command
	root.RunE = downloadCmd.RunE
	root.Args = downloadCmd.Args
	root.Flags().AddFlagSet(downloadCmd.Flags())
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

// setup resolves the process-wide configuration and builds the logger.
func (a *app) setup() error {
	level := a.ro.LogLevel
	if a.ro.Verbose {
		level = "debug"
	}
	log, err := logging.New(logging.Options{Level: level, File: a.ro.LogFile, JSON: a.ro.JSONOut})
	if err != nil {
		return err
	}
	a.log = log

	path := a.ro.Config
	if path == "" {
		if p := defaultConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if err := initializer.Init(initializer.WithViper(a.v), initializer.WithConfigFile(path)); err != nil {
		return err
	}
	a.log.Debug("configuration loaded", zap.String("config", path))
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mlpdataset.yaml")
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
