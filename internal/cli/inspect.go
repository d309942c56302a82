package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/optimist/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	flags   configFlags
	Payload bool
}

// RowView is the output form of one stored row.
type RowView struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	Revision    int64           `json:"revision"`
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// CollectionView is the output form of one collection summary.
type CollectionView struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [collection]",
		Short: "Dump the rows of the SQLite remote",
		Long: `Show what the authoritative SQLite store holds, bypassing the cache.

Without an argument, lists every collection with its row count. With a
collection name, lists its rows in insertion order with their revision
and content fingerprint.

Examples:
  optimist inspect --db ./optimist.db
  optimist inspect --db ./optimist.db todos --payload
  optimist inspect --db ./optimist.db todos --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runInspect(opts, name, cmd)
		},
	}

	opts.flags.register(cmd)
	cmd.Flags().BoolVar(&opts.Payload, "payload", false, "include each row's JSON payload")

	return cmd
}

func runInspect(opts *InspectOptions, name string, cmd *cobra.Command) error {
	b, err := opts.setup(cmd, &opts.flags)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.requireDB("inspect"); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	if name == "" {
		return inspectCollections(ctx, b.db, out)
	}
	return inspectRows(ctx, b.db, name, opts.Payload, out)
}

func inspectCollections(ctx context.Context, st *store.Store, out *OutputFormatter) error {
	stats, err := st.Collections(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read collections", err)
	}

	views := make([]CollectionView, 0, len(stats))
	for _, s := range stats {
		views = append(views, CollectionView{Name: s.Name, Count: s.Count})
	}
	if out.Format == "json" {
		return out.Success(views)
	}
	if len(views) == 0 {
		return out.Success("No collections.")
	}

	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tROWS")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%d\n", v.Name, v.Count)
	}
	return tw.Flush()
}

func inspectRows(ctx context.Context, st *store.Store, name string, payload bool, out *OutputFormatter) error {
	rows, err := st.List(ctx, name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read rows", err)
	}

	views := make([]RowView, 0, len(rows))
	for _, r := range rows {
		v := RowView{ID: r.ID, Seq: r.Seq, Revision: r.Revision, Fingerprint: r.Fingerprint}
		if payload {
			v.Payload = json.RawMessage(r.Payload)
		}
		views = append(views, v)
	}
	if out.Format == "json" {
		return out.Success(views)
	}
	if len(views) == 0 {
		return out.Success(fmt.Sprintf("No rows in %s.", name))
	}

	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tREV\tFINGERPRINT")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", v.Seq, v.ID, v.Revision, shortHash(v.Fingerprint))
		if payload {
			fmt.Fprintf(tw, "\t%s\t\t\n", v.Payload)
		}
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
