package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"mobility-bap/internal/signing"
)

type verifyOptions struct {
	header    string
	publicKey string
}

type verifyResult struct {
	Valid        bool   `json:"valid"`
	SubscriberID string `json:"subscriber_id"`
	KeyID        string `json:"key_id"`
	Created      int64  `json:"created"`
	Expires      int64  `json:"expires"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify [body-file]",
		Short: "Check an Authorization header against a body and public key",
		Long: `Verify that an Authorization header signs the given body.

The body is read from the file argument, or from stdin when omitted. Exits
with status 1 when the signature does not hold.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, rootOpts, opts, firstArg(args))
		},
	}
	cmd.Flags().StringVar(&opts.header, "header", "", "Authorization header value")
	cmd.Flags().StringVar(&opts.publicKey, "public-key", "", "base64 Ed25519 public key of the signer")
	_ = cmd.MarkFlagRequired("header")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func runVerify(cmd *cobra.Command, rootOpts *RootOptions, opts *verifyOptions, path string) error {
	pub, err := signing.ParsePublicKey(opts.publicKey)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "parse public key", Err: err}
	}
	body, err := readBody(cmd.InOrStdin(), path)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "read body", Err: err}
	}
	h, err := signing.NewVerifier(nil, signing.WithSelfKey(pub)).Verify(cmd.Context(), opts.header, body)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "signature rejected", Err: err}
	}
	res := verifyResult{Valid: true, SubscriberID: h.SubscriberID, KeyID: h.KeyID, Created: h.Created, Expires: h.Expires}
	return render(cmd.OutOrStdout(), rootOpts.Format, res, []field{
		{"valid", "true"},
		{"subscriber_id", h.SubscriberID},
		{"key_id", h.KeyID},
		{"created", strconv.FormatInt(h.Created, 10)},
		{"expires", strconv.FormatInt(h.Expires, 10)},
	})
}
