package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/htbdesk/htb/internal/htb"
	"github.com/htbdesk/htb/internal/poll"
)

var (
	activityWatch bool
	activityLimit int
)

var activityCmd = &cobra.Command{
	Use:   "activity <machine-id>",
	Short: "Show recent owns and bloods on a machine",
	Long: `Show the activity timeline of a machine.

With --watch the list is refreshed every poll.activity_interval until
interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runActivity,
}

func init() {
	activityCmd.Flags().BoolVarP(&activityWatch, "watch", "w", false, "keep refreshing")
	activityCmd.Flags().IntVarP(&activityLimit, "limit", "n", 20, "number of entries to show (0 for all)")
	rootCmd.AddCommand(activityCmd)
}

func runActivity(cmd *cobra.Command, args []string) error {
	id, err := parseMachineID(args[0])
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	a.warnNoToken(cmd.ErrOrStderr())

	fetch := func(ctx context.Context) ([]htb.Activity, error) {
		return a.svc.MachineActivity(ctx, id)
	}

	if !activityWatch {
		entries, err := await(cmd.Context(), a, "activity", fetch)
		if err != nil {
			return err
		}
		return printActivity(cmd.OutOrStdout(), a.svc.BaseURL(), entries, activityLimit)
	}

	out := cmd.OutOrStdout()
	ctl := poll.NewController[[]htb.Activity](a.group, "activity", fetch, poll.Options{
		Unit:   a.cfg.Poll.Unit,
		Logger: a.log,
	})
	ctl.OnData(func(entries []htb.Activity) {
		fmt.Fprintf(out, "\n--- %s ---\n", time.Now().Format("15:04:05"))
		_ = printActivity(out, a.svc.BaseURL(), entries, activityLimit)
	})
	ctl.OnTick(func(remaining int) {
		fmt.Fprintf(cmd.ErrOrStderr(), "\r%s ", poll.Countdown(remaining))
	})

	err = a.serve(cmd.Context(), func(stop func()) {
		if err := ctl.Start(a.cfg.Poll.ActivityInterval); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			stop()
		}
	})
	ctl.Stop()
	return err
}

func printActivity(out io.Writer, baseURL string, entries []htb.Activity, limit int) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No activity yet.")
		return err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tUSER\tEVENT")
	_, _ = fmt.Fprintln(w, "----\t----\t-----")
	for _, e := range entries {
		when := e.DateDiff
		if when == "" {
			when = e.Date
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", when, e.UserName, e.Label())
	}
	if debug {
		for _, e := range entries {
			if avatar := e.AvatarURL(baseURL); avatar != "" {
				Debug("avatar %s: %s", e.UserName, avatar)
			}
		}
	}
	return w.Flush()
}
