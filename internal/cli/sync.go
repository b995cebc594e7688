package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Item     string
	Account  string
	AllItems bool
}

// syncReport is the printable result of one cycle.
type syncReport struct {
	RunID       string `json:"run_id"`
	ItemID      string `json:"item_id"`
	AccountID   string `json:"account_id,omitempty"`
	CursorAfter string `json:"cursor_after"`
	Committed   bool   `json:"committed"`
	Pages       int    `json:"pages"`
	Added       int    `json:"added"`
	Modified    int    `json:"modified"`
	Removed     int    `json:"removed"`
	Appended    int    `json:"appended"`
	Updated     int    `json:"updated"`
	Flagged     int    `json:"flagged"`
}

func newSyncReport(res *syncer.Result) syncReport {
	return syncReport{
		RunID:       res.RunID,
		ItemID:      res.Scope.ItemID,
		AccountID:   res.Scope.AccountID,
		CursorAfter: res.CursorAfter,
		Committed:   res.Committed,
		Pages:       res.Pages,
		Added:       res.Added,
		Modified:    res.Modified,
		Removed:     res.Removed,
		Appended:    res.Stats.Appended,
		Updated:     res.Stats.Updated,
		Flagged:     res.Stats.Flagged,
	}
}

func (r syncReport) String() string {
	return fmt.Sprintf("%s: %d pages, %d added, %d modified, %d removed (appended %d, updated %d, flagged %d), cursor %q",
		r.ItemID, r.Pages, r.Added, r.Modified, r.Removed, r.Appended, r.Updated, r.Flagged, r.CursorAfter)
}

type syncReports []syncReport

func (rs syncReports) String() string {
	lines := make([]string, 0, len(rs))
	for _, r := range rs {
		lines = append(lines, r.String())
	}
	return strings.Join(lines, "\n")
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle for an item",
		Long: `Drain every pending change of an item from the aggregator, reconcile it
into the transaction store and advance the stored cursor.

The cursor only moves after the whole changefeed was drained and applied.
A failed cycle leaves it untouched, so running the command again resumes
from the same point.

Example:
  finsync sync --item item-1
  finsync sync --all`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Item, "item", "", "item (Plaid) or connection (SaltEdge) id")
	cmd.Flags().StringVar(&opts.Account, "account", "", "limit the sync to one account")
	cmd.Flags().BoolVar(&opts.AllItems, "all", false, "sync every item with a stored access token")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	if opts.AllItems == (opts.Item != "") {
		return NewExitError(ExitConfigError, "exactly one of --item or --all is required")
	}

	svc, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := cmd.Context()
	items := []string{opts.Item}
	if opts.AllItems {
		items, err = svc.Items(ctx, opts.Config.Environment)
		if err != nil {
			return fmt.Errorf("listing items: %w", err)
		}
		if len(items) == 0 {
			return NewExitError(ExitConfigError, "no items with a stored access token in "+opts.Config.Environment)
		}
	}

	var reports syncReports
	for _, item := range items {
		res, err := svc.Sync(ctx, opts.scope(item, opts.Account))
		if err != nil {
			return fmt.Errorf("sync %s: %w", item, err)
		}
		reports = append(reports, newSyncReport(res))
	}

	if len(reports) == 1 {
		return opts.output(cmd).Success(reports[0])
	}
	return opts.output(cmd).Success(reports)
}
