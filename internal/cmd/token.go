package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/htbdesk/htb/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the API token",
	Long: `Manage the API token used to authenticate with the labs API.

The token is read from ` + config.TokenEnv + ` (also from a .env file) and
otherwise from the config file. Create one under Profile Settings > App
Tokens on the labs site.`,
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Save a token to the config file",
	Long: `Save a token to the config file. When no token is given it is read from
the terminal without echo.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTokenSet,
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a token is configured",
	Args:  cobra.NoArgs,
	RunE:  runTokenStatus,
}

func init() {
	tokenCmd.AddCommand(tokenSetCmd, tokenStatusCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		token, err = readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	if err := a.creds.SetToken(token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", a.creds.Path())
	if a.cfg.TokenSource == config.SourceEnv {
		fmt.Fprintf(cmd.ErrOrStderr(), "Note: %s is set and takes precedence over the saved token.\n", config.TokenEnv)
	}
	return nil
}

// readToken prompts without echo on a terminal and reads a plain line
// otherwise.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "API token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return line, nil
}

func runTokenStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch a.cfg.TokenSource {
	case config.SourceEnv:
		fmt.Fprintf(out, "Token: configured (from %s)\n", config.TokenEnv)
	case config.SourceFile:
		fmt.Fprintf(out, "Token: configured (from %s)\n", a.cfg.File)
	default:
		fmt.Fprintln(out, "Token: not configured")
		fmt.Fprintln(out, "Run 'htb token set' or set "+config.TokenEnv+".")
	}
	return nil
}
