package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/health"
	"github.com/Iron-Ham/wamux/internal/logging"
	"github.com/Iron-Ham/wamux/internal/sessions"
	"github.com/Iron-Ham/wamux/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and remove stored sessions",
	Long: `Commands for the session directories under the sessions root.

These commands work offline on the directories; they never start a browser.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Long: `List every session directory under the sessions root with:
- Session identity
- Last modification time
- Health flag, when the monitor reported the session unhealthy
- Whether a running wamux process holds the root`,
	Args: cobra.NoArgs,
	RunE: runSessionsList,
}

var sessionsRemoveCmd = &cobra.Command{
	Use:   "remove <session-id>",
	Short: "Delete a stored session directory",
	Long: `Delete the directory of a session, discarding its credentials.

Refused while a running wamux process holds the sessions root; delete the
session through that process instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsRemove,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsRemoveCmd)
}

// openStore loads the configuration and opens its sessions root.
func openStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.New(cfg.Sessions.Path, logging.NopLogger())
}

// listStyles renders the session list; the zero value prints plain text.
type listStyles struct {
	header  lipgloss.Style
	id      lipgloss.Style
	muted   lipgloss.Style
	warning lipgloss.Style
}

func newListStyles(w io.Writer) listStyles {
	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return listStyles{}
	}
	return listStyles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		id:      lipgloss.NewStyle().Bold(true),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
	}
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	entries, err := st.Entries()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	styles := newListStyles(out)

	fmt.Fprintln(out, styles.header.Render("Sessions in "+st.Root()))
	if lock, live := st.RootLocked(); lock != nil {
		status := "stale lock"
		if live {
			status = "in use"
		}
		fmt.Fprintln(out, styles.warning.Render(fmt.Sprintf("Root %s by PID %d on %s since %s",
			status, lock.PID, lock.Hostname, lock.StartedAt.Format(time.RFC822))))
	}
	fmt.Fprintln(out)

	if len(entries) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("  %s  %s", styles.id.Render(e.ID),
			styles.muted.Render("modified "+e.Modified.Format(time.RFC822)))
		if since, flagged := health.Flagged(st.Root(), e.ID); flagged {
			note := "unhealthy"
			if !since.IsZero() {
				note += " since " + since.Format(time.RFC822)
			}
			line += "  " + styles.warning.Render(note)
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "\n%d session(s)\n", len(entries))
	return nil
}

func runSessionsRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := sessions.ValidateID(id); err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	if lock, live := st.RootLocked(); live {
		return fmt.Errorf("%w: PID %d is serving %s", errors.ErrRootLocked, lock.PID, st.Root())
	}
	if !st.Exists(id) {
		return errors.NewNotFoundError("session", id)
	}
	if err := st.Remove(id); err != nil {
		return fmt.Errorf("failed to remove session %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed session %s\n", id)
	return nil
}
