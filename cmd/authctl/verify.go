package main

import (
	"context"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/iesalixar/ticket-logger-api/token"
	"github.com/spf13/cobra"
)

func newVerifyCmd(ks *keystoreFlags) *cobra.Command {
	var (
		subject string
		jwksURL string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Check that a token is valid for a subject",
		Long: `Check that a token is signed by the service key, names the subject and has not expired.
With --jwks-url the key is fetched from a running server instead of the local keystore.`,
		Example: `  authctl verify --jwks-url http://localhost:8080/.well-known/jwks.json -s alice@example.com eyJ...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				claims *token.Claims
				err    error
			)
			if jwksURL != "" {
				claims, err = decodeRemote(cmd.Context(), jwksURL, args[0], timeout)
			} else {
				claims, err = decodeLocal(ks, args[0])
			}
			if err != nil {
				return err
			}

			if err := claims.Verify(subject, time.Now()); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "valid: sub=%s roles=%v\n", claims.Subject, claims.Roles)
			return err
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Expected subject")
	cmd.Flags().StringVar(&jwksURL, "jwks-url", "", "Verify against the key set served at this URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "JWKS fetch timeout")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func decodeLocal(ks *keystoreFlags, raw string) (*token.Claims, error) {
	kp, err := ks.load()
	if err != nil {
		return nil, err
	}
	codec, err := token.NewCodec(kp)
	if err != nil {
		return nil, err
	}
	return codec.Decode(raw)
}

func decodeRemote(ctx context.Context, url, raw string, timeout time.Duration) (*token.Claims, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return token.ParseWithKeyfunc(raw, kf.Keyfunc)
}
