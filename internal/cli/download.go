// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mlplatform/dataset-sdk/internal/tui"
	"github.com/mlplatform/dataset-sdk/pkg/datasets"
	"github.com/mlplatform/dataset-sdk/pkg/initializer"
)

func newDownloadCmd(a *app) *cobra.Command {
	var (
		id        string
		tosSource string
		flat      bool
	)

	cmd := &cobra.Command{
		Use:   "download [DATASET_ID]",
		Short: "Download every record of a dataset by URL",
		Long: `Resolves the dataset descriptor and downloads every record into
<output>/<DATASET_ID>, preserving each URL's path. HTTP(S) records are
streamed; tos:// records are fetched from object storage. The run stops
at the first failing record.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" && len(args) > 0 {
				id = args[0]
			}
			id = strings.TrimSpace(id)
			if id == "" && tosSource == "" {
				return fmt.Errorf("missing DATASET_ID. Pass as positional arg or --id")
			}

			dest := a.v.GetString(initializer.KeyOutput)
			if !flat && id != "" {
				dest = filepath.Join(dest, id)
			}

			progress, closeProgress := a.progress(cmd.OutOrStdout(), id)
			defer closeProgress()

			ds, err := datasets.New(
				datasets.WithID(id),
				datasets.WithTOSSource(tosSource),
				datasets.WithLogger(a.log),
				datasets.WithProgress(progress),
			)
			if err != nil {
				return err
			}
			return ds.Download(cmd.Context(), dest)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Dataset ID. If omitted, positional DATASET_ID is used")
	cmd.Flags().StringVar(&tosSource, "tos-source", "", "Object storage location used when the descriptor has no storage path")
	cmd.Flags().StringP("output", "o", initializer.DefaultOutput, "Destination base directory")
	cmd.Flags().BoolVar(&flat, "flat", false, "Write into the output directory itself, without a DATASET_ID subdirectory")
	_ = a.v.BindPFlag(initializer.KeyOutput, cmd.Flags().Lookup("output"))

	return cmd
}

func newCopyCmd(a *app) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "copy --from DIR --to DIR",
		Short: "Copy a materialized dataset to another directory",
		Long: `Reads the manifest in --from and copies every record into --to,
preserving the directory layout relative to --from. A new manifest is
written in --to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" {
				return fmt.Errorf("both --from and --to are required")
			}
			progress, closeProgress := a.progress(cmd.OutOrStdout(), filepath.Base(from))
			defer closeProgress()

			ds, err := datasets.New(
				datasets.WithLocalPath(from),
				datasets.WithLogger(a.log),
				datasets.WithProgress(progress),
			)
			if err != nil {
				return err
			}
			return ds.CopyTo(cmd.Context(), to)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Local root holding "+datasets.LocalMetadataFilename)
	cmd.Flags().StringVar(&to, "to", "", "Destination root")
	return cmd
}

func newDescribeCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "describe DATASET_ID",
		Short: "Resolve a dataset and print its descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := datasets.New(datasets.WithID(args[0]), datasets.WithLogger(a.log))
			if err != nil {
				return err
			}
			if err := ds.Resolve(cmd.Context()); err != nil {
				return err
			}
			desc, _ := ds.Descriptor()

			out := cmd.OutOrStdout()
			if strings.ToLower(format) == "json" || a.ro.JSONOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(desc)
			}

			fmt.Fprintf(out, "Dataset %s", desc.DatasetID)
			if desc.Name != "" {
				fmt.Fprintf(out, " (%s)", desc.Name)
			}
			fmt.Fprintf(out, "\nStorage: %s\nRecords: %d\n\n", desc.StoragePath, len(desc.Data))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tFILE\tSIZE\tSOURCE")
			for i, rec := range desc.Data {
				src, err := ds.RecordURL(rec)
				if err != nil {
					src = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i, rec.Data.FilePath, rec.Data.Size, src)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	return cmd
}

// progress picks the progress handler for the current output mode. The
// returned func releases the renderer.
func (a *app) progress(w io.Writer, title string) (datasets.ProgressFunc, func()) {
	switch {
	case a.ro.JSONOut:
		return jsonProgress(w), func() {}
	case a.ro.Quiet:
		return cliProgress(w), func() {}
	default:
		ui := tui.NewLiveRenderer(w, title)
		return ui.Handler(), ui.Close
	}
}

// cliProgress returns a simple text-based progress handler.
func cliProgress(w io.Writer) datasets.ProgressFunc {
	okc := color.New(color.FgGreen).SprintFunc()
	errc := color.New(color.FgRed).SprintFunc()
	return func(ev datasets.ProgressEvent) {
		switch ev.Event {
		case "resolve_start":
			fmt.Fprintf(w, "Resolving %s ...\n", ev.DatasetID)
		case "file_start":
			fmt.Fprintf(w, "fetching: %s\n", ev.Source)
		case "file_done":
			fmt.Fprintf(w, "%s %s\n", okc("done:"), ev.Path)
		case "error":
			fmt.Fprintf(w, "%s %s\n", errc("error:"), ev.Message)
		case "done":
			fmt.Fprintln(w, ev.Message)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) datasets.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev datasets.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
