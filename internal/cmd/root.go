// Package cmd implements the gitswitch command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/steveyegge/gitswitch/internal/style"
)

// Command groups.
const (
	GroupProfiles = "profiles"
	GroupSetup    = "setup"
)

var (
	cfgFile string
	verbose bool

	version = "dev" // set at build time with -ldflags "-X .../internal/cmd.version=..."
)

var rootCmd = &cobra.Command{
	Use:   "gitswitch",
	Short: "Switch between GitHub identities for git",
	Long: `gitswitch keeps several GitHub accounts side by side and makes one of
them the identity git uses: user.name, user.email and the credential
manager entry for github.com.

Profiles are added by signing in through the device flow; tokens are kept
in the OS keychain.

Examples:
  gitswitch add --tag work      # Sign in and add a profile
  gitswitch list                # Show profiles, * marks the active one
  gitswitch switch alice        # Make alice the active identity`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupProfiles, Title: "Profile Commands:"},
		&cobra.Group{ID: GroupSetup, Title: "Setup Commands:"},
	)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/gitswitch/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), style.Errorf("%v", err))
	}
	return err
}

// requireSubcommand is the RunE of parent commands.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
	}
	return cmd.Help()
}

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: GroupSetup,
	Short:   "Print the gitswitch version",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gitswitch %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
