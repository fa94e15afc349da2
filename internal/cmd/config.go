package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/steveyegge/gitswitch/internal/config"
	"github.com/steveyegge/gitswitch/internal/style"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupSetup,
	Short:   "Show or change gitswitch settings",
	Long: `Manage the gitswitch configuration file.

Settings live in $XDG_CONFIG_HOME/gitswitch/config.toml unless --config or
GITSWITCH_CONFIG points elsewhere. GITSWITCH_CLIENT_ID overrides client_id.

Examples:
  gitswitch config init                     # Write a config with defaults
  gitswitch config set-client-id Iv1.abc    # Set the OAuth app
  gitswitch config show                     # Print the effective settings`,
	RunE: requireSubcommand,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with defaults",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configSetClientIDCmd = &cobra.Command{
	Use:   "set-client-id <id>",
	Short: "Set the OAuth app client id used to add profiles",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSetClientID,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configSetClientIDCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, style.Dim.Render("# "+path))
	fmt.Fprint(out, buf.String())
	warnFileBackend(out, cfg)
	return nil
}

// warnFileBackend tells the user the file backend rewrites ~/.gitconfig.
func warnFileBackend(w io.Writer, cfg *config.Config) {
	if cfg.GitBackend == config.BackendFile {
		fmt.Fprintln(w, style.Warningf("%s", config.FileBackendWarning))
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig(path)
	if id := os.Getenv(config.EnvClientID); id != "" {
		cfg.ClientID = id
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), style.Successf("Wrote %s", path))
	return nil
}

func runConfigSetClientID(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	if id == "" {
		return fmt.Errorf("client id cannot be empty")
	}
	path, err := configPath()
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	cfg.ClientID = id
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), style.Successf("Client id saved to %s", path))
	warnFileBackend(cmd.OutOrStdout(), cfg)
	if env := os.Getenv(config.EnvClientID); env != "" && env != id {
		fmt.Fprintln(cmd.OutOrStdout(), style.Warningf("%s is set and takes precedence", config.EnvClientID))
	}
	return nil
}
