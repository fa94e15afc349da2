package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/steveyegge/gitswitch/internal/profile"
	"github.com/steveyegge/gitswitch/internal/style"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: GroupProfiles,
	Short:   "Show all profiles",
	Long: `List every profile gitswitch manages.

The active profile, the one git currently uses, is marked with an
asterisk (*). Credential-manager entries gitswitch has not seen before are
imported first.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: GroupProfiles,
	Short:   "Show the active profile",
	Args:    cobra.NoArgs,
	RunE:    runWhoami,
}

var switchCmd = &cobra.Command{
	Use:     "switch <id>",
	Aliases: []string{"use"},
	GroupID: GroupProfiles,
	Short:   "Make a profile the active git identity",
	Long: `Switch git to the given profile.

This writes user.name and user.email to the global git config and replaces
the credential-manager entry for the configured host with the profile's
token. If any step fails, the previous configuration is restored.

Example:
  gitswitch switch alice`,
	Args: cobra.ExactArgs(1),
	RunE: runSwitch,
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: GroupProfiles,
	Short:   "Change a profile's name, email or tag",
	Long: `Edit a profile's display name, email or tag. Only the flags given are
changed; pass an empty value to clear the email or tag. Editing the active
profile re-applies it to git.

Examples:
  gitswitch edit alice --email alice@example.com
  gitswitch edit bob --tag personal --name "Bob Jones"`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	GroupID: GroupProfiles,
	Short:   "Remove a profile and its token",
	Long: `Delete a profile, its token in the OS keychain and its credential-manager
entry. Deleting the active profile activates the first remaining profile,
or clears the git identity when none remain.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var reconcileCmd = &cobra.Command{
	Use:     "reconcile",
	GroupID: GroupProfiles,
	Short:   "Import credential-manager entries and repair the registry",
	Args:    cobra.NoArgs,
	RunE:    runReconcile,
}

var (
	listFormat   string
	whoamiFormat string

	editName  string
	editEmail string
	editTag   string
)

func init() {
	rootCmd.AddCommand(listCmd, whoamiCmd, switchCmd, editCmd, deleteCmd, reconcileCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "o", formatTable, "Output format: table, json, yaml")
	whoamiCmd.Flags().StringVarP(&whoamiFormat, "format", "o", formatTable, "Output format: table, json, yaml")

	editCmd.Flags().StringVar(&editName, "name", "", "Display name written to user.name")
	editCmd.Flags().StringVar(&editEmail, "email", "", "Email written to user.email")
	editCmd.Flags().StringVar(&editTag, "tag", "", "Free-form label")
}

// profileView is a profile as printed by list and whoami.
type profileView struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Username string    `json:"username" yaml:"username"`
	Email    string    `json:"email,omitempty" yaml:"email,omitempty"`
	Tag      string    `json:"tag,omitempty" yaml:"tag,omitempty"`
	Origin   string    `json:"origin" yaml:"origin"`
	Added    time.Time `json:"added" yaml:"added"`
	Active   bool      `json:"active" yaml:"active"`
}

func newProfileView(p profile.Profile, activeID string) profileView {
	return profileView{
		ID:       p.ID,
		Name:     p.GitName(),
		Username: p.Username,
		Email:    p.Email,
		Tag:      p.Tag,
		Origin:   string(p.Origin),
		Added:    p.Added,
		Active:   p.ID == activeID,
	}
}

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}

func renderTable(views []profileView) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(style.Dim).
		Headers("", "ID", "NAME", "EMAIL", "TAG", "ORIGIN")
	for _, v := range views {
		marker := " "
		if v.Active {
			marker = style.ActiveMarker
		}
		email := v.Email
		if email == "" {
			email = style.Dim.Render("(none)")
		}
		t.Row(marker, v.ID, v.Name, email, v.Tag, style.Dim.Render(v.Origin))
	}
	return t.String()
}

func runList(cmd *cobra.Command, args []string) error {
	if err := validateFormat(listFormat); err != nil {
		return err
	}
	rt, err := profileRuntime(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	res := rt.app.ListProfiles()
	if !res.OK {
		return resultError(res)
	}
	activeID := ""
	if cur := rt.app.CurrentProfile(ctx); cur.OK && cur.Value != nil {
		activeID = cur.Value.ID
	}

	views := make([]profileView, 0, len(res.Value))
	for _, p := range res.Value {
		views = append(views, newProfileView(p, activeID))
	}
	if listFormat != formatTable {
		return encode(out, listFormat, views)
	}

	if len(views) == 0 {
		fmt.Fprintln(out, "No profiles yet. Run 'gitswitch add' to sign in with the first one.")
		return nil
	}
	fmt.Fprintln(out, renderTable(views))
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	if err := validateFormat(whoamiFormat); err != nil {
		return err
	}
	rt, err := profileRuntime(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	res := rt.app.CurrentProfile(cmd.Context())
	if !res.OK {
		return resultError(res)
	}
	if whoamiFormat != formatTable {
		if res.Value == nil {
			return encode(out, whoamiFormat, nil)
		}
		return encode(out, whoamiFormat, newProfileView(*res.Value, res.Value.ID))
	}

	if res.Value == nil {
		fmt.Fprintln(out, style.Dim.Render("No active profile."))
		fmt.Fprintln(out, "Run 'gitswitch switch <id>' to pick one.")
		return nil
	}
	p := res.Value
	fmt.Fprintf(out, "%s %s\n", style.Bold.Render("Active profile:"), p.ID)
	fmt.Fprintf(out, "  Name:  %s\n", p.GitName())
	if p.Email != "" {
		fmt.Fprintf(out, "  Email: %s\n", p.Email)
	}
	if p.Tag != "" {
		fmt.Fprintf(out, "  %s %s\n", style.Dim.Render("Tag:"), style.Dim.Render(p.Tag))
	}
	return nil
}

func runSwitch(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	rt, err := profileRuntime(cmd)
	if err != nil {
		return err
	}

	res := rt.app.SwitchProfile(cmd.Context(), id)
	if !res.OK {
		return resultError(res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), style.Successf("Switched to %s <%s>", res.Value.GitName(), res.Value.Email))
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])

	var f profile.Fields
	if cmd.Flags().Changed("name") {
		f.DisplayName = &editName
	}
	if cmd.Flags().Changed("email") {
		f.Email = &editEmail
	}
	if cmd.Flags().Changed("tag") {
		f.Tag = &editTag
	}
	if f.Empty() {
		return fmt.Errorf("nothing to change: pass --name, --email or --tag")
	}

	rt, err := profileRuntime(cmd)
	if err != nil {
		return err
	}
	res := rt.app.EditProfile(cmd.Context(), id, f)
	if !res.OK {
		return resultError(res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), style.Successf("Updated %s", res.Value.ID))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	rt, err := profileRuntime(cmd)
	if err != nil {
		return err
	}

	res := rt.app.DeleteProfile(cmd.Context(), id)
	if !res.OK {
		return resultError(res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), style.Successf("%s", capitalize(res.Message)))
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	res := rt.app.Reconcile(cmd.Context())
	if !res.OK {
		return resultError(res)
	}
	s := res.Value
	for _, p := range s.Imported {
		fmt.Fprintln(out, style.Successf("Imported %s", p.ID))
	}
	for _, id := range s.Repaired {
		fmt.Fprintln(out, style.Successf("Repaired %s", id))
	}
	for _, id := range s.Merged {
		fmt.Fprintln(out, style.Successf("Filled in %s from the git identity", id))
	}
	if len(s.Imported)+len(s.Repaired)+len(s.Merged) == 0 {
		fmt.Fprintln(out, "Registry already matches the credential manager.")
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
