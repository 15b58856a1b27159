package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

var configDebugCmd = &cobra.Command{
	Use:   "debug <on|off>",
	Short: "Persist the debug setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigDebug,
}

func init() {
	configCmd.AddCommand(configDebugCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	cfg := a.cfg

	token := "not configured"
	if cfg.IsConfigured() {
		token = "configured (" + cfg.TokenSource + ")"
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "File:\t%s\n", cfg.File)
	_, _ = fmt.Fprintf(w, "Token:\t%s\n", token)
	_, _ = fmt.Fprintf(w, "Base URL:\t%s\n", cfg.BaseURL)
	_, _ = fmt.Fprintf(w, "Timeout:\t%s\n", cfg.Timeout)
	_, _ = fmt.Fprintf(w, "Debug:\t%t\n", a.creds.Debug())
	_, _ = fmt.Fprintf(w, "Activity interval:\t%d x %s\n", cfg.Poll.ActivityInterval, cfg.Poll.Unit)
	_, _ = fmt.Fprintf(w, "IP interval:\t%d x %s (max %d attempts)\n", cfg.Poll.IPInterval, cfg.Poll.Unit, cfg.Poll.IPAttempts)
	if cfg.InsecureSkipVerify {
		_, _ = fmt.Fprintln(w, "TLS verify:\tdisabled")
	}
	return w.Flush()
}

func runConfigDebug(cmd *cobra.Command, args []string) error {
	var on bool
	switch args[0] {
	case "on":
		on = true
	case "off":
		on = false
	default:
		v, err := strconv.ParseBool(args[0])
		if err != nil {
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		on = v
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.creds.SetDebug(on); err != nil {
		return err
	}
	state := "disabled"
	if on {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Debug %s, saved to %s\n", state, a.creds.Path())
	return nil
}
