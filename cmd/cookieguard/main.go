package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"

	"github.com/systmms/cookieguard/cmd/cookieguard/commands"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/execenv"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer memguard.Purge()

	app := commands.NewApp()
	rootCmd := commands.NewRootCommand(app, fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date))

	err := rootCmd.Execute()
	if err == nil {
		return 0
	}

	var exitErr *execenv.ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, commands.ErrIssues):
		return 1
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", cgerrors.SimplifyError(err))
	return 1
}
