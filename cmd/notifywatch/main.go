// Command notifywatch is a cobra-based example/debugging tool for package
// notify, the structured counterpart to the reference implementation's
// plain-text cmd/fsnotify: every event (or debounced record) is printed as
// one JSON object per line on stdout, so it pipes cleanly into jq or a log
// shipper instead of a human terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notifywatch",
		Short: "Watch paths for filesystem changes and print JSON lines",
	}
	root.AddCommand(newWatchCmd())
	return root
}
