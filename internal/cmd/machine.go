package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/htbdesk/htb/internal/htb"
	"github.com/htbdesk/htb/internal/poll"
)

var (
	machineNoWait  bool
	machineYes     bool
	machinePage    int
	machinePerPage int
)

var machineCmd = &cobra.Command{
	Use:   "machine",
	Short: "Inspect and control lab machines",
}

var machineActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the machine you are playing",
	Args:  cobra.NoArgs,
	RunE:  runMachineActive,
}

var machineInfoCmd = &cobra.Command{
	Use:   "info <id-or-name>",
	Short: "Show a machine profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runMachineInfo,
}

var machineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active machines",
	Args:  cobra.NoArgs,
	RunE:  runMachineList,
}

var machineSpawnCmd = &cobra.Command{
	Use:   "spawn <machine-id>",
	Short: "Spawn a machine and wait for its IP",
	Long: `Spawn a machine. Unless --no-wait is given, the command then polls the
active machine until an IP address is assigned or the attempt budget
(poll.ip_attempts every poll.ip_interval) runs out.`,
	Args: cobra.ExactArgs(1),
	RunE: runMachineSpawn,
}

var machineResetCmd = &cobra.Command{
	Use:   "reset <machine-id>",
	Short: "Reset a machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVMAction(cmd, args[0], "Reset", (*htb.Service).ResetMachine)
	},
}

var machineStopCmd = &cobra.Command{
	Use:   "stop <machine-id>",
	Short: "Stop a machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVMAction(cmd, args[0], "Stop", (*htb.Service).TerminateMachine)
	},
}

func init() {
	machineSpawnCmd.Flags().BoolVar(&machineNoWait, "no-wait", false, "return right after the spawn request")
	machineResetCmd.Flags().BoolVarP(&machineYes, "yes", "y", false, "do not ask for confirmation")
	machineStopCmd.Flags().BoolVarP(&machineYes, "yes", "y", false, "do not ask for confirmation")
	machineListCmd.Flags().IntVar(&machinePage, "page", 1, "page number")
	machineListCmd.Flags().IntVar(&machinePerPage, "per-page", 20, "machines per page")

	machineCmd.AddCommand(machineActiveCmd, machineInfoCmd, machineListCmd,
		machineSpawnCmd, machineResetCmd, machineStopCmd)
	rootCmd.AddCommand(machineCmd)
}

func parseMachineID(arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid machine id %q", arg)
	}
	return id, nil
}

func runMachineActive(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	a.warnNoToken(cmd.ErrOrStderr())

	m, err := await(cmd.Context(), a, "active", a.svc.ActiveMachine)
	if err != nil {
		return err
	}
	if m == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No active machine.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	printActiveMachine(w, m)
	if m.Type != "" {
		_, _ = fmt.Fprintf(w, "Type:\t%s\n", m.Type)
	}
	return w.Flush()
}

func runMachineInfo(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	a.warnNoToken(cmd.ErrOrStderr())

	m, err := await(cmd.Context(), a, "profile", func(ctx context.Context) (*htb.Machine, error) {
		return a.svc.MachineProfile(ctx, args[0])
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Name:\t%s (#%d)\n", m.Name, m.ID)
	_, _ = fmt.Fprintf(w, "OS:\t%s\n", m.OS)
	_, _ = fmt.Fprintf(w, "Difficulty:\t%s\n", m.DifficultyText)
	_, _ = fmt.Fprintf(w, "Points:\t%d\n", m.Points)
	_, _ = fmt.Fprintf(w, "Rating:\t%.1f\n", float64(m.Rating))
	_, _ = fmt.Fprintf(w, "Owns:\t%d user / %d root\n", m.UserOwns, m.RootOwns)
	_, _ = fmt.Fprintf(w, "Owned by you:\tuser %s, root %s\n", yesNo(bool(m.OwnedUser)), yesNo(bool(m.OwnedRoot)))
	if m.IP != "" {
		_, _ = fmt.Fprintf(w, "IP:\t%s\n", m.IP)
	}
	return w.Flush()
}

func runMachineList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	a.warnNoToken(cmd.ErrOrStderr())

	machines, err := await(cmd.Context(), a, "list", func(ctx context.Context) ([]htb.Machine, error) {
		return a.svc.ListMachines(ctx, machinePage, machinePerPage)
	})
	if err != nil {
		return err
	}
	if len(machines) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No machines.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tOS\tDIFFICULTY\tPOINTS\tRATING")
	_, _ = fmt.Fprintln(w, "--\t----\t--\t----------\t------\t------")
	for _, m := range machines {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%.1f\n",
			m.ID,
			m.Name,
			m.OS,
			m.DifficultyText,
			m.Points,
			float64(m.Rating),
		)
	}
	return w.Flush()
}

func runMachineSpawn(cmd *cobra.Command, args []string) error {
	id, err := parseMachineID(args[0])
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	a.warnNoToken(cmd.ErrOrStderr())

	res, err := await(cmd.Context(), a, "action", func(ctx context.Context) (*htb.ActionResult, error) {
		return a.svc.SpawnMachine(ctx, id)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)

	if machineNoWait {
		return nil
	}
	return waitForIP(cmd, a, id)
}

func waitForIP(cmd *cobra.Command, a *app, machineID int) error {
	out := cmd.OutOrStdout()
	watcher := poll.NewIPWatcher(a.group, a.svc.ActiveMachine, poll.IPOptions{
		Options:     poll.Options{Unit: a.cfg.Poll.Unit, Logger: a.log},
		Interval:    a.cfg.Poll.IPInterval,
		MaxAttempts: a.cfg.Poll.IPAttempts,
	})
	defer watcher.Stop()

	err := a.serve(cmd.Context(), func(stop func()) {
		watcher.OnChange(func(s poll.IPStatus) {
			if s.State != poll.IPPolling {
				stop()
				return
			}
			if s.Attempt == 0 {
				fmt.Fprintln(out, "Waiting for IP address...")
				return
			}
			Debug("ip attempt %d/%d: not assigned yet", s.Attempt, a.cfg.Poll.IPAttempts)
		})
		watcher.Start(machineID)
	})
	if err != nil {
		return err
	}

	status := watcher.Status()
	switch status.State {
	case poll.IPAcquired:
		fmt.Fprintf(out, "Machine IP: %s\n", status.IP)
		return nil
	case poll.IPTimedOut:
		return fmt.Errorf("no IP assigned after %d attempts, check 'htb machine active' later", status.Attempt)
	default:
		return fmt.Errorf("ip watch ended in state %s", status.State)
	}
}

type vmAction func(s *htb.Service, ctx context.Context, machineID int) (*htb.ActionResult, error)

func runVMAction(cmd *cobra.Command, arg, verb string, action vmAction) error {
	id, err := parseMachineID(arg)
	if err != nil {
		return err
	}
	if !machineYes {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("%s machine %d?", verb, id))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	a.warnNoToken(cmd.ErrOrStderr())

	res, err := await(cmd.Context(), a, "action", func(ctx context.Context) (*htb.ActionResult, error) {
		return action(a.svc, ctx, id)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

// confirm asks a yes/no question, defaulting to no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
