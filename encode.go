package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"patreonviewer/config"
	"patreonviewer/encoder"
	"patreonviewer/ffmpeg"
	"patreonviewer/task"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newEncodeCommand() *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "encode [dir]",
		Short: "Re-encode every video under dir (default DATA_DIR) to the target height",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			dir := cfg.DataDir
			if len(args) == 1 {
				dir = args[0]
			}
			if target <= 0 {
				target = cfg.TargetHeight
			}
			return encodeDir(cmd.Context(), cmd.OutOrStdout(), cfg, dir, target)
		},
	}
	cmd.Flags().IntVar(&target, "height", 0, "Target height (overrides TARGET_HEIGHT)")
	return cmd
}

func encodeDir(parent context.Context, out io.Writer, cfg *config.Config, dir string, target int) error {
	if parent == nil {
		parent = context.Background()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	// Refuse to rewrite files under a running server.
	lock := flock.New(filepath.Join(dir, task.LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", dir, err)
	}
	if !locked {
		return fmt.Errorf("%s is in use by a running server", dir)
	}
	defer lock.Unlock()

	runner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize ffmpeg runner: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	summary := encoder.New(runner, runner, target).Run(ctx, encoder.Batch{Dir: dir}, &printSink{out: out})

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSummary(summary, time.Since(started)))
	if summary.Aborted {
		return context.Canceled
	}
	return nil
}

// printSink writes encoder log lines to a terminal.
type printSink struct {
	out io.Writer
}

func (s *printSink) Log(kind, message string) {
	fmt.Fprintf(s.out, "[%s] %s\n", kind, message)
}

func (s *printSink) EncodingStarted(total int) {}

func (s *printSink) EncodingProgress(current string, completed, total int) {}

func (s *printSink) EncodingFinished() {}

// renderSummary draws the run totals as a two-column table with the counts
// right-aligned.
func renderSummary(s encoder.Summary, elapsed time.Duration) string {
	count := func(n int) string { return humanize.Comma(int64(n)) }

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Result", "Count"})
	tw.AppendRows([]table.Row{
		{"Videos found", count(s.Candidates)},
		{"Needed encoding", count(s.Total)},
		{"Encoded", count(s.Encoded)},
		{"Skipped", count(s.Skipped)},
		{"Unreadable", count(s.Unprobed)},
		{"Failed", count(s.Failed)},
		{"Elapsed", elapsed.Round(time.Second).String()},
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
