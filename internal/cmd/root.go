package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/htbdesk/htb/internal/api"
)

var (
	cfgFile string
	debug   bool
)

// Debug prints a message if debug mode is enabled
func Debug(format string, args ...interface{}) {
	if debug {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// ExitError makes the process exit with Code. A nil Err means the command
// already reported the problem.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitInterrupted is the conventional status for a SIGINT.
const exitInterrupted = 130

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "htb",
	Short: "htb - Hack The Box lab client",
	Long: `htb talks to the Hack The Box labs API from the terminal.

Show your account, VPN and active machine:
  htb status

Work with machines:
  htb machine spawn 811
  htb flag 811 <flag>
  htb activity 811 --watch

Set up your API token:
  htb token set`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupting the process cancels the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	report(os.Stderr, err)
	return err
}

// report prints err for the user. Interruptions and errors a command has
// already reported print nothing.
func report(w io.Writer, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	fmt.Fprintln(w, "Error:", err)
	if h := hint(err); h != "" {
		fmt.Fprintln(w, h)
	}
}

// hint suggests a next step for common transport failures.
func hint(err error) string {
	switch {
	case api.StatusCode(err) == http.StatusUnauthorized:
		return "Check your API token with 'htb token status' or run 'htb token set'."
	case api.IsTimeout(err):
		return "The labs API did not answer in time; raise 'timeout' in the config file if this persists."
	}
	if kind, ok := api.KindOf(err); ok && kind == api.KindConnection {
		return "Check your network connection and VPN."
	}
	return ""
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.htb_client/config.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}
