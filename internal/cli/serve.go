// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mlplatform/dataset-sdk/internal/server"
	"github.com/mlplatform/dataset-sdk/pkg/initializer"
)

func newServeCmd(a *app, version string) *cobra.Command {
	var (
		addr      string
		port      int
		outputDir string
		origins   []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP job server",
		Long: `Start an HTTP server that provides:
  - REST API to start, list and cancel dataset downloads
  - WebSocket for live job updates

Output paths are configured server-side only (not via API).

Example:
  mlpdataset serve
  mlpdataset serve --port 3000 --output-dir ./Datasets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			g := initializer.Global()
			if outputDir == "" {
				outputDir = g.Output
			}
			cfg := server.Config{
				Addr:           addr,
				Port:           port,
				OutputDir:      outputDir,
				Credential:     g.Credential,
				APIEndpoint:    g.APIEndpoint,
				TOSEndpoint:    g.TOSEndpoint,
				ChunkSize:      g.ChunkSize,
				StrictDirs:     g.StrictDirs,
				AllowedOrigins: origins,
				Version:        version,
				Logger:         a.log,
			}

			out := cmd.OutOrStdout()
			title := color.New(color.FgCyan, color.Bold).SprintFunc()
			fmt.Fprintln(out)
			fmt.Fprintln(out, title("mlpdataset job server"))
			fmt.Fprintf(out, "  API:     http://localhost:%d/api\n", port)
			fmt.Fprintf(out, "  Output:  %s\n\n", outputDir)

			return server.New(cfg).ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Output root for jobs (default: configured output)")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "Allowed CORS/WebSocket origins (repeatable)")

	return cmd
}
