package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/systmms/cookieguard/internal/credential"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// CommandError represents a consumer command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// WrapCommandNotFound wraps command not found errors with a hint
func WrapCommandNotFound(command string, err error) error {
	suggestions := map[string]string{
		"yt-dlp":     "Install yt-dlp from https://github.com/yt-dlp/yt-dlp",
		"youtube-dl": "Install youtube-dl or switch to yt-dlp",
		"python":     "Install Python from https://python.org/",
		"python3":    "Install Python from https://python.org/",
		"curl":       "Install curl with your package manager",
	}

	suggestion := suggestions[command]
	if suggestion == "" {
		suggestion = fmt.Sprintf("Make sure '%s' is installed and in your PATH", command)
	}

	return CommandError{
		Command:    command,
		Message:    err.Error(),
		Suggestion: suggestion,
	}
}

// CredentialError turns a typed credential failure into a user-facing error for the CLI
func CredentialError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var ue UserError
	if errors.As(err, &ue) {
		return err
	}

	return UserError{
		Message:    fmt.Sprintf("%s failed", operation),
		Details:    err.Error(),
		Suggestion: credentialSuggestion(err),
		Err:        err,
	}
}

// credentialSuggestion returns a hint based on the failure kind and backend error text
func credentialSuggestion(err error) string {
	errStr := err.Error()

	switch credential.KindOf(err) {
	case credential.KindDownload:
		if credential.IsNotFound(err) {
			return "Upload a credential file with 'cookieguard upload <file> --slot <slot>'"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for s3:GetObject on the credential bucket"
		}
		if strings.Contains(errStr, "NoSuchBucket") {
			return "Verify COOKIEGUARD_BUCKET and COOKIEGUARD_REGION"
		}
	case credential.KindUpload:
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for s3:PutObject and kms:GenerateDataKey"
		}
	case credential.KindValidation:
		return "Re-export the cookies in Netscape (tab-separated) or JSON format"
	case credential.KindExpired:
		return "Export fresh cookies and upload them to the backup slot, then run 'cookieguard rotate'"
	case credential.KindRateLimit:
		return "Wait for the rate limit window to pass or raise COOKIEGUARD_RATE_LIMIT_MAX"
	case credential.KindIntegrity:
		return "Verify COOKIEGUARD_PASSPHRASE and COOKIEGUARD_KDF_SALT match the values used to encrypt, or restore from an archive"
	case credential.KindUnavailable:
		return "Run 'cookieguard health-check --detailed' to see which slots are failing"
	}

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection or raise COOKIEGUARD_OP_TIMEOUT"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check COOKIEGUARD_ENDPOINT and your network"
	}
	if credential.IsRetryable(err) {
		return "The store rejected the request but may accept it later; run the command again"
	}

	return ""
}

// SimplifyError maps common low-level failures to a UserError with a hint. Errors that are
// already user-facing pass through unchanged.
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	var (
		ue  UserError
		ce  ConfigError
		cmd CommandError
	)
	if errors.As(err, &ue) || errors.As(err, &ce) || errors.As(err, &cmd) {
		return err
	}
	if credential.KindOf(err) != "" {
		return CredentialError("Operation", err)
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return UserError{
			Message:    "Invalid JSON format",
			Details:    err.Error(),
			Suggestion: "Validate the credential file with 'cookieguard upload --dry-run'",
			Err:        err,
		}
	case errors.Is(err, fs.ErrPermission):
		return UserError{
			Message:    "Permission denied",
			Details:    err.Error(),
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	case errors.Is(err, fs.ErrNotExist):
		return UserError{
			Message:    "File or directory not found",
			Details:    err.Error(),
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}
	return err
}
