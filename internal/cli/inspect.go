package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/roach88/agenda/internal/ir"
	"github.com/roach88/agenda/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Latest   bool
}

// SnapshotEntry is one row of the snapshot listing.
type SnapshotEntry struct {
	Seq           int64  `json:"seq"`
	ID            string `json:"id"`
	Clock         int64  `json:"clock"`
	Resolver      string `json:"resolver"`
	Digest        string `json:"digest"`
	EngineVersion string `json:"engine_version"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [snapshot-id]",
		Short: "List or show persisted agenda snapshots",
		Long: `List the snapshots in a database, or show one in full.

Without an ID, every snapshot is listed in save order. With an ID (or
--latest), the snapshot's focus stack, groups, queued activations in firing
order, process associations and pending actions are shown. The content
digest is verified on load.

Examples:
  agenda inspect --db ./agenda.db
  agenda inspect --db ./agenda.db --latest
  agenda inspect --db ./agenda.db 0192b6c4-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runInspect(opts, id, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().BoolVar(&opts.Latest, "latest", false, "show the most recently saved snapshot")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runInspect(opts *InspectOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if id != "" && opts.Latest {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "snapshot ID and --latest are mutually exclusive", nil)
	}
	// Opening a missing path would create an empty database.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to open database: %v", err), nil)
	}
	defer st.Close()

	ctx := cmd.Context()

	if id == "" && !opts.Latest {
		infos, err := st.ListSnapshots(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
		}
		entries := make([]SnapshotEntry, len(infos))
		for i, info := range infos {
			entries[i] = SnapshotEntry(info)
		}
		if formatter.Format == "json" {
			return formatter.Success(entries)
		}
		writeSnapshotList(formatter.Writer, entries)
		return nil
	}

	var snap ir.AgendaSnapshot
	if opts.Latest {
		snap, err = st.LatestSnapshot(ctx)
	} else {
		snap, err = st.LoadSnapshot(ctx, id)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	case errors.Is(err, store.ErrDigestMismatch):
		return formatter.Fail(ExitFailure, ErrCodeStore, err.Error(), nil)
	case err != nil:
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}

	if formatter.Format == "json" {
		return formatter.Success(snap)
	}
	writeSnapshot(formatter.Writer, snap)
	return nil
}

func writeSnapshotList(w io.Writer, entries []SnapshotEntry) {
	title := lipgloss.NewRenderer(w).NewStyle().Bold(true)
	fmt.Fprintln(w, title.Render(fmt.Sprintf("Snapshots (%d)", len(entries))))
	if len(entries) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tCLOCK\tRESOLVER\tDIGEST")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", e.Seq, e.ID, e.Clock, e.Resolver, shortDigest(e.Digest))
	}
	tw.Flush()
}

func writeSnapshot(w io.Writer, snap ir.AgendaSnapshot) {
	r := lipgloss.NewRenderer(w)
	title := r.NewStyle().Bold(true)
	muted := r.NewStyle().Faint(true)
	box := r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	header := fmt.Sprintf("%s\nclock %d  resolver %s  digest %s",
		title.Render("Snapshot "+snap.ID), snap.Clock, snap.Resolver, shortDigest(snap.Digest))
	fmt.Fprintln(w, box.Render(header))

	fmt.Fprintf(w, "Focus: %s\n", strings.Join(snap.Focus, " > "))

	for _, g := range snap.Groups {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s\n", title.Render("Group "+g.Name), muted.Render(groupFlags(g)))
		for i, a := range g.Activations {
			fmt.Fprintf(w, "  %d. %s rule=%s salience=%d sequence=%d recency=%d\n",
				i+1, a.ID, a.Rule, a.Salience, a.Sequence, a.Recency)
		}
		for _, pa := range g.ProcessAssociations {
			fmt.Fprintf(w, "  process %d -> %s\n", pa.ProcessID, pa.NodeInstanceID)
		}
	}

	if len(snap.Actions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, title.Render("Pending actions"))
		for _, a := range snap.Actions {
			fmt.Fprintf(w, "  %s group=%s\n", a.Type, a.Group)
		}
	}
}

func groupFlags(g ir.GroupRecord) string {
	state := "inactive"
	if g.Active {
		state = "active"
	}
	flags := []string{state}
	if g.AutoDeactivate {
		flags = append(flags, "auto-deactivate")
	}
	return fmt.Sprintf("[%s] size=%d cleared_for_recency=%d activated_for_recency=%d",
		strings.Join(flags, ", "), len(g.Activations), g.ClearedForRecency, g.ActivatedForRecency)
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
