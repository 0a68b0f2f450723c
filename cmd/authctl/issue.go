package main

import (
	"fmt"
	"time"

	"github.com/iesalixar/ticket-logger-api/token"
	"github.com/spf13/cobra"
)

func newIssueCmd(ks *keystoreFlags) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
		issuer  string
	)

	cmd := &cobra.Command{
		Use:     "issue",
		Short:   "Sign an access token with the keystore's private key",
		Example: `  authctl issue --keystore keystore.p12 --keystore-alias ticket-logger -s alice@example.com -r ROLE_USER`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := ks.load()
			if err != nil {
				return err
			}

			codec, err := token.NewCodec(kp, token.WithTTL(ttl), token.WithIssuer(issuer))
			if err != nil {
				return err
			}

			tok, err := codec.Issue(subject, roles)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Token subject (the account email)")
	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "Role to embed, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", token.DefaultTTL, "Token lifetime")
	cmd.Flags().StringVar(&issuer, "issuer", envOr("JWT_ISSUER", token.DefaultIssuer), "iss claim")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
