package main

import (
	"os"

	"github.com/htbdesk/htb/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
