// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/mlplatform/dataset-sdk/pkg/datasets"
)

const barTemplate = `{{string . "title"}} {{counters . }} {{bar . "[" "=" ">" "." "]"}} {{percent . }} {{etime . }} {{string . "file"}}`

// LiveRenderer turns materialization events into terminal output.
// On an interactive terminal it drives a pb progress bar counting
// records, with the current file and its byte progress as a suffix.
// Otherwise it prints one line per record.
type LiveRenderer struct {
	out         io.Writer
	title       string
	interactive bool

	events  chan datasets.ProgressEvent
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	bar      *pb.ProgressBar
	planned  int
	finished int
	failures []string
	start    time.Time

	cyan, green, red, dim func(a ...interface{}) string
}

// NewLiveRenderer starts a renderer writing to out. NO_COLOR disables
// colour; a non-terminal writer selects line output.
func NewLiveRenderer(out io.Writer, title string) *LiveRenderer {
	return newRenderer(out, title, isInteractive(out) && ansiOkay())
}

func newRenderer(out io.Writer, title string, interactive bool) *LiveRenderer {
	noColor := os.Getenv("NO_COLOR") != "" || !interactive
	paint := func(attr color.Attribute) func(a ...interface{}) string {
		c := color.New(attr)
		if noColor {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	lr := &LiveRenderer{
		out:         out,
		title:       title,
		interactive: interactive,
		events:      make(chan datasets.ProgressEvent, 1024),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		start:       time.Now(),
		cyan:        paint(color.FgCyan),
		green:       paint(color.FgGreen),
		red:         paint(color.FgRed),
		dim:         paint(color.Faint),
	}
	go lr.loop()
	return lr
}

// Handler returns a ProgressFunc feeding the renderer. Byte progress
// updates are dropped when the renderer falls behind; other events are
// always delivered.
func (lr *LiveRenderer) Handler() datasets.ProgressFunc {
	return func(ev datasets.ProgressEvent) {
		if ev.Event == "file_progress" {
			select {
			case lr.events <- ev:
			default:
			}
			return
		}
		select {
		case lr.events <- ev:
		case <-lr.done:
		}
	}
}

// Close drains pending events, stops the bar and prints a summary of
// failures. It is safe to call more than once.
func (lr *LiveRenderer) Close() {
	lr.once.Do(func() {
		close(lr.done)
		<-lr.stopped
	})
}

func (lr *LiveRenderer) loop() {
	defer close(lr.stopped)
	for {
		select {
		case ev := <-lr.events:
			lr.apply(ev)
		case <-lr.done:
			for {
				select {
				case ev := <-lr.events:
					lr.apply(ev)
				default:
					lr.finish()
					return
				}
			}
		}
	}
}

func (lr *LiveRenderer) apply(ev datasets.ProgressEvent) {
	switch ev.Event {
	case "resolve_start":
		fmt.Fprintln(lr.out, lr.cyan(fmt.Sprintf("Resolving dataset %s ...", ev.DatasetID)))
	case "resolve_done":
		line := fmt.Sprintf("Resolved %s: %d records", ev.DatasetID, ev.Total)
		if ev.Message != "" {
			line += "  storage: " + ev.Message
		}
		fmt.Fprintln(lr.out, lr.dim(line))
	case "plan_item":
		lr.planned++
	case "file_start":
		if lr.interactive {
			lr.ensureBar()
			lr.bar.Set("file", ellipsizeMiddle(displayName(ev.Source), 40))
		}
	case "file_progress":
		if lr.bar != nil {
			lr.bar.Set("file", fmt.Sprintf("%s %s/%s",
				ellipsizeMiddle(path.Base(ev.Path), 30), humanBytes(ev.Downloaded), humanBytes(ev.Total)))
		}
	case "file_done":
		lr.finished++
		if lr.bar != nil {
			lr.bar.Increment()
			return
		}
		fmt.Fprintf(lr.out, "%s [%d/%d] %s\n", lr.green("done"), lr.finished, lr.planned, ev.Path)
	case "error":
		msg := ev.Message
		if ev.Source != "" {
			msg = fmt.Sprintf("record %d (%s): %s", ev.Index, ev.Source, msg)
		}
		lr.failures = append(lr.failures, msg)
		if lr.bar == nil {
			fmt.Fprintln(lr.out, lr.red("error: ")+msg)
		}
	case "done":
		if lr.bar != nil {
			lr.bar.Finish()
			lr.bar = nil
		}
		fmt.Fprintln(lr.out, lr.green(fmt.Sprintf("%s into %s in %s", ev.Message, ev.Path, fmtDuration(time.Since(lr.start)))))
	}
}

func (lr *LiveRenderer) ensureBar() {
	if lr.bar != nil {
		return
	}
	bar := pb.ProgressBarTemplate(barTemplate).New(lr.planned)
	bar.SetWriter(lr.out)
	bar.SetRefreshRate(150 * time.Millisecond)
	bar.Set(pb.Terminal, true)
	bar.Set("title", lr.cyan(lr.title))
	bar.SetMaxWidth(120)
	lr.bar = bar.Start()
}

func (lr *LiveRenderer) finish() {
	if lr.bar != nil {
		lr.bar.Finish()
		lr.bar = nil
		for _, f := range lr.failures {
			fmt.Fprintln(lr.out, lr.red("error: ")+f)
		}
	}
}

func displayName(source string) string {
	if source == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(source, "\\", "/"))
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return s
	}
	runes := []rune(s)
	half := (w - 3) / 2
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

func humanBytes(n int64) string {
	if n < 0 {
		return "?"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit && exp < 5 {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func isInteractive(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}
