package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sydlexius/archarvest/internal/config"
	"github.com/sydlexius/archarvest/internal/history"
)

// showHistory prints the most recent passes and upload attempts from the
// history database and exits.
func showHistory(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled in %s", opts.configPath)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	db, err := openHistory(ctx, cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	return printHistory(ctx, os.Stdout, history.NewStore(db, logger), opts.history)
}

func printHistory(ctx context.Context, w io.Writer, store *history.Store, limit int) error {
	passes, err := store.ListPasses(ctx, limit)
	if err != nil {
		return err
	}
	uploads, err := store.ListUploads(ctx, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "Pass ID\tStarted\tDuration\tFound\tUploaded\tFailed\tSkipped") //nolint:errcheck
	for _, p := range passes {
		duration := p.CompletedAt.Sub(p.StartedAt).Round(time.Millisecond).String()
		if p.Canceled {
			duration += " (canceled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n", //nolint:errcheck
			p.ID, humanize.Time(p.StartedAt), duration,
			p.Discovered, p.Uploaded, p.Failed, p.Skipped)
	}
	if len(passes) == 0 {
		fmt.Fprintln(tw, "(no passes recorded)") //nolint:errcheck
	}

	fmt.Fprintln(tw) //nolint:errcheck
	fmt.Fprintln(tw, "When\tStatus\tTarget\tBoss\tFile\tPermalink / Error") //nolint:errcheck
	for _, r := range uploads {
		detail := r.Permalink
		if r.Status == history.StatusFailed {
			detail = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck
			humanize.Time(r.CreatedAt), r.Status, dash(r.Target), dash(r.Boss), r.Path, dash(detail))
	}
	if len(uploads) == 0 {
		fmt.Fprintln(tw, "(no uploads recorded)") //nolint:errcheck
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
