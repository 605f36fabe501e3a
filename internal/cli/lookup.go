package cli

import (
	"os"

	"github.com/spf13/cobra"

	"mobility-bap/internal/registry"
)

type lookupOptions struct {
	registryURL string
	domain      string
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &lookupOptions{}
	cmd := &cobra.Command{
		Use:   "lookup <subscriber-id>",
		Short: "Show a subscriber's registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.registryURL, "registry-url", os.Getenv("REGISTRY_URL"), "registry base URL")
	cmd.Flags().StringVar(&opts.domain, "domain", "ONDC:TRV10", "network domain")
	return cmd
}

func runLookup(cmd *cobra.Command, rootOpts *RootOptions, opts *lookupOptions, subscriberID string) error {
	if opts.registryURL == "" {
		return &ExitError{Code: ExitCommandError, Message: "--registry-url is required"}
	}
	client := registry.New(opts.registryURL, registry.Scope{Domain: opts.domain})
	entry, err := client.ResolveSubscriber(cmd.Context(), subscriberID)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "lookup " + subscriberID, Err: err}
	}
	return render(cmd.OutOrStdout(), rootOpts.Format, entry, []field{
		{"subscriber_id", entry.SubscriberID},
		{"subscriber_url", entry.SubscriberURL},
		{"type", entry.Type},
		{"key_id", entry.KeyID()},
		{"signing_public_key", entry.SigningPublicKey},
	})
}
