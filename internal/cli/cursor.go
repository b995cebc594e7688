package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ResetCursorOptions holds flags for the reset-cursor command.
type ResetCursorOptions struct {
	*RootOptions
	Item        string
	Account     string
	AllAccounts bool
}

type resetReport struct {
	ItemID         string `json:"item_id"`
	CursorsRemoved int    `json:"cursors_removed"`
}

func (r resetReport) String() string {
	return fmt.Sprintf("%s: removed %d cursor(s); the next sync fetches full history", r.ItemID, r.CursorsRemoved)
}

// NewResetCursorCommand creates the reset-cursor command.
func NewResetCursorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetCursorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset-cursor",
		Short: "Forget the sync cursor so the next sync starts from scratch",
		Long: `Remove the stored cursor of an item, or of one of its accounts. The next
sync fetches the full history. Rows already in the store are left alone.

Example:
  finsync reset-cursor --item item-1
  finsync reset-cursor --item conn-1 --all-accounts`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResetCursor(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Item, "item", "", "item or connection id (required)")
	cmd.Flags().StringVar(&opts.Account, "account", "", "account id")
	cmd.Flags().BoolVar(&opts.AllAccounts, "all-accounts", false, "also remove every account cursor of the item")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func runResetCursor(opts *ResetCursorOptions, cmd *cobra.Command) error {
	svc, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	n, err := svc.ResetCursor(cmd.Context(), opts.scope(opts.Item, opts.Account), opts.AllAccounts)
	if err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return opts.output(cmd).Success(resetReport{ItemID: opts.Item, CursorsRemoved: n})
}
