package cmd

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/htbdesk/htb/internal/vpn"
)

var vpnOutput string

var vpnCmd = &cobra.Command{
	Use:   "vpn",
	Short: "Manage OpenVPN profiles",
}

var vpnDownloadCmd = &cobra.Command{
	Use:   "download [server-id]",
	Short: "Download the OpenVPN profile of a server",
	Long: `Download an OpenVPN profile to ~/.htb_client/vpn/<server-id>.ovpn.

Without a server id, the server assigned to your account is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVPNDownload,
}

var vpnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloaded profiles",
	Args:  cobra.NoArgs,
	RunE:  runVPNList,
}

var vpnCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove downloaded profiles",
	Args:  cobra.NoArgs,
	RunE:  runVPNClean,
}

func init() {
	vpnDownloadCmd.Flags().StringVarP(&vpnOutput, "output", "o", "", "write the profile to this path")
	vpnCmd.AddCommand(vpnDownloadCmd, vpnListCmd, vpnCleanCmd)
	rootCmd.AddCommand(vpnCmd)
}

func newVPNManager(a *app) (*vpn.Manager, error) {
	m, err := vpn.NewManager(a.svc)
	if err != nil {
		return nil, fmt.Errorf("failed to access vpn profiles: %w", err)
	}
	return m, nil
}

func runVPNDownload(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	a.warnNoToken(cmd.ErrOrStderr())

	m, err := newVPNManager(a)
	if err != nil {
		return err
	}

	serverID := 0
	if len(args) == 1 {
		serverID, err = strconv.Atoi(args[0])
		if err != nil || serverID < 1 {
			return fmt.Errorf("invalid server id %q", args[0])
		}
	}

	path, err := await(cmd.Context(), a, "vpn", func(ctx context.Context) (string, error) {
		id := serverID
		if id == 0 {
			user, err := a.svc.UserInfo(ctx)
			if err != nil {
				return "", err
			}
			if user.ServerID == 0 {
				return "", fmt.Errorf("no VPN server assigned to your account, pass a server id")
			}
			id = user.ServerID
			Debug("using assigned server %d", id)
		}
		return m.Download(ctx, id, vpnOutput)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved profile to %s\n", path)
	return nil
}

func runVPNList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	m, err := newVPNManager(a)
	if err != nil {
		return err
	}

	profiles, err := m.List()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No profiles downloaded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERVER\tSIZE\tDOWNLOADED\tPATH")
	_, _ = fmt.Fprintln(w, "------\t----\t----------\t----")
	for _, p := range profiles {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\n",
			p.ServerID,
			p.Size,
			p.ModTime.Format("2006-01-02 15:04:05"),
			p.Path,
		)
	}
	return w.Flush()
}

func runVPNClean(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	m, err := newVPNManager(a)
	if err != nil {
		return err
	}
	if err := m.Clean(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Profiles removed.")
	return nil
}
