package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/htbdesk/htb/internal/htb"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account, VPN and active machine",
	Long: `Show the dashboard: your account and subscription, the VPN connection
and the machine you are currently playing.

Parts that fail to load are reported as warnings; the command only fails
when nothing could be loaded.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	a.warnNoToken(cmd.ErrOrStderr())

	d, err := await(cmd.Context(), a, "dashboard", a.svc.LoadDashboard)
	if err != nil {
		return err
	}
	for _, failure := range d.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", failure)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if d.User != nil {
		_, _ = fmt.Fprintf(w, "User:\t%s\n", d.User.Name)
		_, _ = fmt.Fprintf(w, "Subscription:\t%s\n", d.User.SubscriptionDisplay())
		if d.User.Team != "" {
			_, _ = fmt.Fprintf(w, "Team:\t%s\n", d.User.Team)
		}
	}
	printConnection(w, d.Connection)
	printActiveMachine(w, d.ActiveMachine)
	return w.Flush()
}

func printConnection(w *tabwriter.Writer, c *htb.Connection) {
	if c == nil {
		_, _ = fmt.Fprintln(w, "VPN:\tNot connected")
		return
	}
	server := c.ServerName
	if server == "" {
		server = c.Hostname
	}
	_, _ = fmt.Fprintf(w, "VPN:\t%s (%s)\n", server, c.IPDisplay())
}

func printActiveMachine(w *tabwriter.Writer, m *htb.ActiveMachine) {
	if m == nil {
		_, _ = fmt.Fprintln(w, "Machine:\tNone")
		return
	}
	_, _ = fmt.Fprintf(w, "Machine:\t%s (#%d)\n", m.Name, m.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", m.StatusText())
	if m.HasIP() {
		_, _ = fmt.Fprintf(w, "IP:\t%s\n", m.IP)
	}
}
