package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/htbdesk/htb/internal/htb"
)

// exitFlagRejected is the exit status for a wrong flag.
const exitFlagRejected = 2

var flagCmd = &cobra.Command{
	Use:   "flag <machine-id> <flag>",
	Short: "Submit a user or root flag",
	Long: `Submit a flag for a machine.

Exit status is 0 when the flag is accepted, 2 when it is wrong and 1 when
the submission itself failed.`,
	Args: cobra.ExactArgs(2),
	RunE: runFlag,
}

func init() {
	rootCmd.AddCommand(flagCmd)
}

func runFlag(cmd *cobra.Command, args []string) error {
	id, err := parseMachineID(args[0])
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	a.warnNoToken(cmd.ErrOrStderr())

	res, err := await(cmd.Context(), a, "action", func(ctx context.Context) (*htb.FlagResult, error) {
		return a.svc.SubmitFlag(ctx, id, args[1])
	})
	if err != nil {
		return err
	}

	if !res.Accepted {
		fmt.Fprintf(cmd.OutOrStdout(), "Incorrect: %s\n", res.Message)
		return &ExitError{Code: exitFlagRejected}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Correct! %s\n", res.Message)
	return nil
}
