package cli

import (
	"github.com/spf13/cobra"

	"mobility-bap/internal/signing"
)

type keyPair struct {
	SigningPublicKey  string `json:"signing_public_key"`
	SigningPrivateKey string `json:"signing_private_key"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing key pair",
		Long: `Generate an Ed25519 signing key pair encoded the way the registry expects.

The public key is the raw 32-byte key and the private key is the 32-byte
seed, both base64 encoded. Export them as BAP_SIGNING_PUBLIC_KEY and
BAP_SIGNING_PRIVATE_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := signing.GenerateKeyPair()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "generate key pair", Err: err}
			}
			kp := keyPair{SigningPublicKey: pub, SigningPrivateKey: priv}
			return render(cmd.OutOrStdout(), rootOpts.Format, kp, []field{
				{"signing_public_key", pub},
				{"signing_private_key", priv},
			})
		},
	}
}
