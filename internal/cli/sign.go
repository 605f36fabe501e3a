package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"mobility-bap/internal/signing"
)

type signOptions struct {
	subscriberID string
	keyID        string
	privateKey   string
	validity     time.Duration
}

type signResult struct {
	Authorization string `json:"authorization"`
	Digest        string `json:"digest"`
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &signOptions{}
	cmd := &cobra.Command{
		Use:   "sign [body-file]",
		Short: "Produce the Authorization header for a request body",
		Long: `Sign the exact bytes of a request body and print the Authorization header.

The body is read from the file argument, or from stdin when omitted. The
private key defaults to BAP_SIGNING_PRIVATE_KEY.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(cmd, rootOpts, opts, firstArg(args))
		},
	}
	cmd.Flags().StringVar(&opts.subscriberID, "subscriber-id", os.Getenv("BAP_SUBSCRIBER_ID"), "subscriber id placed in keyId")
	cmd.Flags().StringVar(&opts.keyID, "key-id", os.Getenv("BAP_KEY_ID"), "unique key id placed in keyId")
	cmd.Flags().StringVar(&opts.privateKey, "private-key", os.Getenv("BAP_SIGNING_PRIVATE_KEY"), "base64 Ed25519 private key")
	cmd.Flags().DurationVar(&opts.validity, "validity", 30*time.Second, "signature lifetime")
	return cmd
}

func runSign(cmd *cobra.Command, rootOpts *RootOptions, opts *signOptions, path string) error {
	if opts.subscriberID == "" || opts.keyID == "" || opts.privateKey == "" {
		return &ExitError{Code: ExitCommandError, Message: "--subscriber-id, --key-id and --private-key are required"}
	}
	key, err := signing.ParsePrivateKey(opts.privateKey)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "parse private key", Err: err}
	}
	signer, err := signing.NewSigner(opts.subscriberID, opts.keyID, key, signing.WithValidity(opts.validity))
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "create signer", Err: err}
	}
	body, err := readBody(cmd.InOrStdin(), path)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "read body", Err: err}
	}
	header, err := signer.Sign(body)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "sign body", Err: err}
	}
	res := signResult{Authorization: header, Digest: signing.Digest(body)}
	return render(cmd.OutOrStdout(), rootOpts.Format, res, []field{
		{"authorization", res.Authorization},
		{"digest", "BLAKE-512=" + res.Digest},
	})
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
