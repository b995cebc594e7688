package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DisconnectOptions holds flags for the disconnect command.
type DisconnectOptions struct {
	*RootOptions
	Item string
}

type disconnectReport struct {
	ItemID         string `json:"item_id"`
	CursorsRemoved int    `json:"cursors_removed"`
	RemoteRevoked  bool   `json:"remote_revoked"`
	RemoteError    string `json:"remote_error,omitempty"`
}

func (r disconnectReport) String() string {
	if !r.RemoteRevoked {
		return fmt.Sprintf("%s: removed locally (%d cursor(s)); provider call failed: %s", r.ItemID, r.CursorsRemoved, r.RemoteError)
	}
	return fmt.Sprintf("%s: revoked and removed (%d cursor(s))", r.ItemID, r.CursorsRemoved)
}

// NewDisconnectCommand creates the disconnect command.
func NewDisconnectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DisconnectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Revoke an item and forget its token and cursors",
		Long: `Ask the provider to revoke an item, then delete its access token and every
cursor stored under it. Local state is removed even when the provider
cannot be reached.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisconnect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Item, "item", "", "item or connection id (required)")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func runDisconnect(opts *DisconnectOptions, cmd *cobra.Command) error {
	svc, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Disconnect(cmd.Context(), opts.scope(opts.Item, ""))
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	report := disconnectReport{
		ItemID:         opts.Item,
		CursorsRemoved: res.CursorsRemoved,
		RemoteRevoked:  res.RemoteErr == nil,
	}
	if res.RemoteErr != nil {
		report.RemoteError = res.RemoteErr.Error()
	}
	return opts.output(cmd).Success(report)
}
