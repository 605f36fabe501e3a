package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	jwttoken "mobility-bap/internal/jwt_token"
)

type tokenOptions struct {
	secret   string
	issuer   string
	audience string
	ttl      time.Duration
}

type tokenResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token <rider-id>",
		Short: "Mint a bearer token for the rider API",
		Long: `Mint an HS256 bearer token accepted by the rider-facing routes.

The secret, issuer and audience default to the server's CLIENT_JWT_*
environment so tokens minted on the same host are accepted as-is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				return &ExitError{Code: ExitCommandError, Message: "--secret is required"}
			}
			svc := jwttoken.NewJWTService(opts.secret, opts.issuer, opts.audience)
			token, err := svc.GenerateAccessToken(args[0], opts.ttl)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "mint token", Err: err}
			}
			res := tokenResult{AccessToken: token, ExpiresIn: int64(opts.ttl.Seconds())}
			return render(cmd.OutOrStdout(), rootOpts.Format, res, []field{
				{"access_token", token},
				{"expires_in", opts.ttl.String()},
			})
		},
	}
	cmd.Flags().StringVar(&opts.secret, "secret", os.Getenv("CLIENT_JWT_SECRET"), "HMAC signing secret")
	cmd.Flags().StringVar(&opts.issuer, "issuer", envOr("CLIENT_JWT_ISSUER", "mobility-bap"), "token issuer")
	cmd.Flags().StringVar(&opts.audience, "audience", envOr("CLIENT_JWT_AUDIENCE", "mobility-bap-clients"), "token audience")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
