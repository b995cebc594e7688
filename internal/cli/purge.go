package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Yes bool
}

type purgeReport struct {
	Environment string `json:"environment"`
	KeysRemoved int    `json:"keys_removed"`
}

func (r purgeReport) String() string {
	return fmt.Sprintf("%s: removed %d key(s)", r.Environment, r.KeysRemoved)
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every credential, token and cursor of the environment",
		Long: `Delete every stored key of the configured integration and environment.
Other environments and integrations are not touched. Transaction rows stay
in the store.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm the purge")

	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	if !opts.Yes {
		return NewExitError(ExitConfigError, "refusing to purge "+opts.Config.Environment+" without --yes")
	}

	svc, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	n, err := svc.Purge(cmd.Context(), opts.Config.Environment)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	return opts.output(cmd).Success(purgeReport{Environment: opts.Config.Environment, KeysRemoved: n})
}
