// Command uisync serves the demo desktop over the uisync protocol.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vango-dev/uisync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.Fprint(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "uisync",
		Short: "Server for the uisync UI synchronization protocol",
		Long: `uisync mirrors a server-side UI model tree to browser clients.

Clients post JSON requests to one endpoint (or send them over a
WebSocket) and receive the property changes, new adapters and
disposals their last request caused.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		serveCmd(),
		checkConfigCmd(),
		versionCmd(),
	)
	return root
}

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

func info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}
