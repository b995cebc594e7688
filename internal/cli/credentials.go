package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/credentials"
)

// CredentialsOptions holds flags for the credentials set command.
type CredentialsOptions struct {
	*RootOptions
	ClientID       string
	Secret         string
	PrivateKeyFile string
}

// TokenOptions holds flags for the token set command.
type TokenOptions struct {
	*RootOptions
	Item  string
	Token string
}

type savedReport struct {
	What        string `json:"saved"`
	Integration string `json:"integration"`
	Environment string `json:"environment"`
}

func (r savedReport) String() string {
	return fmt.Sprintf("saved %s for %s/%s", r.What, r.Integration, r.Environment)
}

// NewCredentialsCommand creates the credentials command group.
func NewCredentialsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage aggregator API credentials",
	}
	cmd.AddCommand(newCredentialsSetCommand(rootOpts))
	return cmd
}

func newCredentialsSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CredentialsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the client id and secret of the configured environment",
		Long: `Store API credentials for the configured integration and environment.
SaltEdge additionally needs the PEM private key used to sign requests.

Example:
  finsync credentials set --client-id abc --secret s3cr3t
  finsync --integration saltedge credentials set --client-id app --secret s --private-key-file key.pem`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCredentialsSet(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "client or app id (required)")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "API secret (required)")
	cmd.Flags().StringVar(&opts.PrivateKeyFile, "private-key-file", "", "PEM private key (SaltEdge)")
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}

func runCredentialsSet(opts *CredentialsOptions, cmd *cobra.Command) error {
	set := credentials.Set{ClientID: opts.ClientID, Secret: opts.Secret}
	if opts.PrivateKeyFile != "" {
		pem, err := os.ReadFile(opts.PrivateKeyFile)
		if err != nil {
			return WrapExitError(ExitConfigError, "reading private key", err)
		}
		set.PrivateKey = string(pem)
	}

	svc, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.SetCredentials(cmd.Context(), opts.Config.Environment, set); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return opts.output(cmd).Success(savedReport{
		What:        "credentials",
		Integration: string(svc.Integration()),
		Environment: opts.Config.Environment,
	})
}

// NewTokenCommand creates the token command group.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage per-item access tokens",
	}
	cmd.AddCommand(newTokenSetCommand(rootOpts))
	return cmd
}

func newTokenSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "set",
		Short:         "Store the access token of an item",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenSet(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Item, "item", "", "item id (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "access token (required)")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func runTokenSet(opts *TokenOptions, cmd *cobra.Command) error {
	svc, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.SetToken(cmd.Context(), opts.Config.Environment, opts.Item, opts.Token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return opts.output(cmd).Success(savedReport{
		What:        "access token of " + opts.Item,
		Integration: string(svc.Integration()),
		Environment: opts.Config.Environment,
	})
}
