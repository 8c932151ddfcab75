package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	notify "github.com/watchkit/notify"
	"github.com/watchkit/notify/debounce"
	"github.com/watchkit/notify/debouncefull"
)

// line is the single JSON shape emitted on stdout, one object per line,
// regardless of which debounce mode (if any) produced it.
type line struct {
	Time  string   `json:"time"`
	Kind  string   `json:"kind"`
	Path  string   `json:"path,omitempty"`
	Paths []string `json:"paths,omitempty"`
	Error string   `json:"error,omitempty"`
}

func printLine(l line) {
	l.Time = time.Now().Format(time.RFC3339Nano)
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(l); err != nil {
		fmt.Fprintln(os.Stderr, "notifywatch: encode:", err)
	}
}

func eventLine(e notify.Event) line {
	if e.IsRename() || len(e.Paths) > 1 {
		return line{Kind: e.Kind.String(), Paths: e.Paths}
	}
	return line{Kind: e.Kind.String(), Path: e.Path()}
}

func newWatchCmd() *cobra.Command {
	var (
		recursive    bool
		debounceDur  time.Duration
		full         bool
		pollInterval time.Duration
		hash         bool
	)

	cmd := &cobra.Command{
		Use:   "watch <paths...>",
		Short: "Watch the given paths for changes and print one JSON event per line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(args, watchConfig{
				recursive:    recursive,
				debounce:     debounceDur,
				full:         full,
				pollInterval: pollInterval,
				hash:         hash,
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&recursive, "recursive", false, "watch directories recursively")
	flags.DurationVar(&debounceDur, "debounce", 0, "coalesce events within this window before printing (0 disables)")
	flags.BoolVar(&full, "full", false, "use the rename-aware full debouncer instead of the mini debouncer (requires --debounce)")
	flags.DurationVar(&pollInterval, "poll-interval", 0, "polling backend tick period, if the poll backend ends up selected")
	flags.BoolVar(&hash, "hash", false, "enable content hashing in the poll backend (no-op on native backends)")

	return cmd
}

type watchConfig struct {
	recursive    bool
	debounce     time.Duration
	full         bool
	pollInterval time.Duration
	hash         bool
}

func runWatch(paths []string, cfg watchConfig) error {
	out := notify.CallbackSink{
		OnEvent: func(e notify.Event) { printLine(eventLine(e)) },
		OnError: func(err notify.Error) { printLine(line{Kind: "error", Error: err.Error()}) },
	}

	var opts []notify.Option
	if cfg.pollInterval > 0 {
		opts = append(opts, notify.WithPollInterval(cfg.pollInterval))
	}
	if cfg.hash {
		opts = append(opts, notify.WithFileHashing(true))
	}

	var sink notify.EventSink = out
	var closeDebouncer func() error

	if cfg.debounce > 0 {
		if cfg.full {
			fd := debouncefull.New(out, cfg.debounce, 0, nil)
			sink = fd
			closeDebouncer = fd.Close
		} else {
			md := debounce.New(recordSink{}, cfg.debounce, 0, nil)
			sink = md
			closeDebouncer = md.Close
		}
	}

	w, err := notify.NewWatcher(sink, opts...)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if closeDebouncer != nil {
		defer closeDebouncer()
	}

	mode := notify.NonRecursive
	if cfg.recursive {
		mode = notify.Recursive
	}
	for _, p := range paths {
		if err := w.Watch(p, mode); err != nil {
			return fmt.Errorf("watching %q: %w", p, err)
		}
	}

	<-make(chan struct{})
	return nil
}

// recordSink adapts the mini debouncer's Record output to the same JSON
// line shape used for raw events.
type recordSink struct{}

func (recordSink) SendRecord(r debounce.Record) {
	printLine(line{Kind: r.Kind.String(), Path: r.Path})
}

func (recordSink) SendError(err notify.Error) {
	printLine(line{Kind: "error", Error: err.Error()})
}
