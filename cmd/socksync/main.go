package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vango-dev/socksync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┌─┐┌─┐┬┌─┌─┐┬ ┬┌┐┌┌─┐
  └─┐│ ││  ├┴┐└─┐└┬┘││││
  └─┘└─┘└─┘┴ ┴└─┘ ┴ ┘└┘└─┘
`

// colors is false when stderr is not a terminal.
var colors = true

func main() {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		colors = false
		errors.DisableColors()
	}

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		errors.Print(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "socksync",
		Short: "Shared state over WebSocket",
		Long: `socksync serves named groups to WebSocket peers.

Peers subscribe to groups and stay in sync with them:

  • var: a single value, set by the server or any peer
  • list: an ordered, paged collection of id-addressed items
  • function: a procedure called across the connection

Groups are declared in socksync.toml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		serveCmd(),
		checkCmd(),
		versionCmd(),
	)
	return cmd
}

// printBanner prints the socksync ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

func paint(code, text string) string {
	if !colors {
		return text
	}
	return code + text + "\033[0m"
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("%s %s\n", paint("\033[32m", "✓"), fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("%s %s\n", paint("\033[33m", "⚠"), fmt.Sprintf(format, args...))
}
