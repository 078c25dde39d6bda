// Package execenv runs consumer commands with a leased credential file in their environment.
package execenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/logging"
)

// CookieFileEnv carries the path of the issued credential file to the child process
const CookieFileEnv = "COOKIEGUARD_COOKIE_FILE"

// Executor handles running consumer commands
type Executor struct {
	logger *logging.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Option configures an Executor
type Option func(*Executor)

// WithIO replaces the standard streams handed to the child
func WithIO(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(e *Executor) {
		e.stdin = stdin
		e.stdout = stdout
		e.stderr = stderr
	}
}

// New creates a new executor
func New(logger *logging.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = logging.Discard()
	}
	e := &Executor{
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecOptions configures command execution
type ExecOptions struct {
	Command       []string          // Command and arguments to run
	Environment   map[string]string // Variables added to the inherited environment
	AllowOverride bool              // Existing variables win over Environment
	WorkingDir    string
	Timeout       time.Duration // Zero means no timeout
}

// ExitError reports that the child ran and exited non-zero
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// Exec runs a command and waits for it. A non-zero exit is returned as *ExitError so the
// caller can release resources before exiting with the same code.
func (e *Executor) Exec(ctx context.Context, options ExecOptions) error {
	if len(options.Command) == 0 {
		return cgerrors.UserError{
			Message:    "No command specified",
			Suggestion: "Provide a command after -- (e.g., cookieguard issue -- yt-dlp --cookies '$COOKIEGUARD_COOKIE_FILE' URL)",
		}
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	cmdName := options.Command[0]
	if _, err := exec.LookPath(cmdName); err != nil {
		return cgerrors.WrapCommandNotFound(cmdName, err)
	}

	cmd := exec.CommandContext(ctx, cmdName, options.Command[1:]...) // #nosec G204 -- operator supplied command
	cmd.Env = buildEnvironment(os.Environ(), options.Environment, options.AllowOverride)
	cmd.Stdin = e.stdin
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}

	e.logger.Debug("Executing command: %s", strings.Join(options.Command, " "))
	e.logger.Debug("Environment variables set: %d", len(options.Environment))

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				code = 1
			}
			return &ExitError{Command: cmdName, Code: code}
		}
		return cgerrors.CommandError{
			Command:    strings.Join(options.Command, " "),
			Message:    err.Error(),
			Suggestion: "Check the command output above for details",
		}
	}
	return nil
}

// buildEnvironment merges vars into the inherited environment
func buildEnvironment(current []string, vars map[string]string, allowOverride bool) []string {
	envMap := make(map[string]string, len(current)+len(vars))
	for _, env := range current {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	for key, value := range vars {
		if _, exists := envMap[key]; exists && allowOverride {
			continue
		}
		envMap[key] = value
	}

	result := make([]string, 0, len(envMap))
	for key, value := range envMap {
		result = append(result, key+"="+value)
	}
	sort.Strings(result)
	return result
}

// ValidateCommand checks that the command exists and is not an obviously destructive tool
func ValidateCommand(command []string) error {
	if len(command) == 0 {
		return cgerrors.UserError{
			Message:    "No command specified",
			Suggestion: "Provide a command after --",
		}
	}

	cmdName := command[0]
	if _, err := exec.LookPath(cmdName); err != nil {
		return cgerrors.WrapCommandNotFound(cmdName, err)
	}

	dangerousCommands := []string{
		"rm", "rmdir", "del", "format", "fdisk",
		"dd", "mkfs", "parted", "shutdown", "reboot",
	}
	for _, dangerous := range dangerousCommands {
		if cmdName == dangerous || strings.HasSuffix(cmdName, "/"+dangerous) {
			return cgerrors.UserError{
				Message:    fmt.Sprintf("Potentially dangerous command '%s'", cmdName),
				Suggestion: "Consumers only need to read the credential file",
			}
		}
	}
	return nil
}
