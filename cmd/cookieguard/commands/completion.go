package commands

import (
	"github.com/spf13/cobra"
)

// NewCompletionCommand creates the completion command for generating shell completions.
func NewCompletionCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for cookieguard.

To load completions:

Bash:
  $ source <(cookieguard completion bash)

  # To load completions for each session, execute once:
  $ cookieguard completion bash > /etc/bash_completion.d/cookieguard

Zsh:
  # If shell completion is not already enabled in your environment,
  # execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  $ cookieguard completion zsh > "${fpath[1]}/_cookieguard"

Fish:
  $ cookieguard completion fish > ~/.config/fish/completions/cookieguard.fish

PowerShell:
  PS> cookieguard completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(app.Out)
			case "zsh":
				return cmd.Root().GenZshCompletion(app.Out)
			case "fish":
				return cmd.Root().GenFishCompletion(app.Out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(app.Out)
			}
			return nil
		},
	}

	return cmd
}
