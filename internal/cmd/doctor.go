package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
	"github.com/steveyegge/gitswitch/internal/doctor"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: GroupSetup,
	Short:   "Check that gitswitch can do its job",
	Long: `Run health checks on the gitswitch installation:

  config    an OAuth client id is set; warns when git_backend = "file"
  git       git is on PATH
  keyring   the OS keychain accepts writes
  registry  every profile has its token and no deletion was interrupted
  identity  the active git identity belongs to a profile

With --fix, registry problems are repaired by reconciling with the
credential manager.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

var (
	doctorFix  bool
	doctorJSON bool
)

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Repair problems that can be fixed automatically")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Print the report as JSON")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}

	report := doctor.Default().Run(rt.checkContext(cmd.Context()), doctorFix)
	if doctorJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		report.Print(cmd.OutOrStdout())
	}

	if !report.Healthy() {
		return errors.New("some checks failed")
	}
	return nil
}
