package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"
	"github.com/steveyegge/gitswitch/internal/app"
	"github.com/steveyegge/gitswitch/internal/apperr"
	"github.com/steveyegge/gitswitch/internal/style"
	"github.com/steveyegge/gitswitch/internal/tui"
	"golang.org/x/term"
)

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: GroupProfiles,
	Short:   "Sign in with GitHub and add a profile",
	Long: `Add a profile by authorizing gitswitch on GitHub with the device flow.

gitswitch shows a short code; enter it at the verification page while
signed in to the account you want to add. The first profile added becomes
the active git identity.

If the account keeps its email private, pass --email or set one later with
'gitswitch edit <id> --email'.

Examples:
  gitswitch add                          # Add a profile
  gitswitch add --tag work --open        # Tag it and open the browser
  gitswitch add --reauth                 # Refresh the token of an existing profile`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

var (
	addTag    string
	addEmail  string
	addOpen   bool
	addReauth bool
	addPlain  bool
)

// openBrowser opens url in the default browser. Tests replace it.
var openBrowser = launcher.Open

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVar(&addTag, "tag", "", "Label for the new profile")
	addCmd.Flags().StringVar(&addEmail, "email", "", "Email to use when the account hides its address")
	addCmd.Flags().BoolVar(&addOpen, "open", false, "Open the verification page in the default browser")
	addCmd.Flags().BoolVar(&addReauth, "reauth", false, "Replace the token of an existing profile")
	addCmd.Flags().BoolVar(&addPlain, "no-tui", false, "Print the code and wait without the interactive screen")
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runAdd(cmd *cobra.Command, args []string) error {
	rt, err := profileRuntime(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	begin := rt.app.BeginAdd(ctx, app.AddOptions{Tag: addTag, Email: addEmail, Reauth: addReauth})
	if !begin.OK {
		if begin.Kind == apperr.KindInvalidClient && rt.cfg.ClientID == "" {
			return fmt.Errorf("%s\nRun 'gitswitch config set-client-id <id>' first", begin.Message)
		}
		return resultError(begin)
	}
	session := begin.Value

	if addOpen {
		uri := session.VerificationURI
		if session.VerificationURIComplete != "" {
			uri = session.VerificationURIComplete
		}
		openBrowser(uri)
	}

	var res app.Result[app.AddStatus]
	if !addPlain && isTerminal(cmd.InOrStdin()) && isTerminal(out) {
		res, err = tui.Wait(ctx, cmd.InOrStdin(), out, session,
			func() app.Result[app.AddStatus] { return rt.app.PollAdd(session.ID) },
			func() app.Result[app.AddStatus] { return rt.app.CancelAdd(session.ID) })
		if err != nil {
			return err
		}
	} else {
		res = waitPlain(cmd, out, rt, session)
	}

	if !res.OK {
		if res.Value.State == app.AddCanceled {
			fmt.Fprintln(out, style.Dim.Render("Canceled; nothing was saved."))
			return errors.New("add canceled")
		}
		return resultError(res)
	}

	p := res.Value.Profile
	fmt.Fprintln(out, style.Successf("Added profile %s (%s)", p.ID, p.GitName()))
	if res.Value.Warning != "" {
		fmt.Fprintln(out, style.Warningf("%s", res.Value.Warning))
	}
	if cur := rt.app.CurrentProfile(ctx); cur.OK && cur.Value != nil && cur.Value.ID == p.ID {
		fmt.Fprintln(out, style.Successf("%s is the active git identity", p.ID))
	}
	return nil
}

// waitPlain prints the code and blocks until the add finishes. An interrupt
// cancels the add.
func waitPlain(cmd *cobra.Command, out io.Writer, rt *runtime, s *app.AddSession) app.Result[app.AddStatus] {
	fmt.Fprintf(out, "Enter code %s at %s\n", style.Bold.Render(s.UserCode), style.Info.Render(s.VerificationURI))
	fmt.Fprintln(out, style.Dim.Render(fmt.Sprintf("Waiting for authorization (expires %s)...", s.ExpiresAt.Local().Format("15:04:05"))))

	res := rt.app.WaitAdd(cmd.Context(), s.ID)
	if !res.OK && res.Value.State == app.AddPending {
		return rt.app.CancelAdd(s.ID)
	}
	return res
}
