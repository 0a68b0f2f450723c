package main

import (
	"time"

	"github.com/iesalixar/ticket-logger-api/token"
	"github.com/spf13/cobra"
)

// decodedToken is the printed form of a verified token.
type decodedToken struct {
	Subject   string    `json:"sub"`
	Roles     []string  `json:"roles"`
	Issuer    string    `json:"iss,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
	Expired   bool      `json:"expired"`
}

func describe(claims *token.Claims, now time.Time) decodedToken {
	out := decodedToken{
		Subject: claims.Subject,
		Roles:   claims.Roles,
		Issuer:  claims.Issuer,
	}
	if out.Roles == nil {
		out.Roles = []string{}
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.UTC()
		out.Expired = !now.Before(claims.ExpiresAt.Time)
	} else {
		out.Expired = true
	}
	return out
}

func newDecodeCmd(ks *keystoreFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "decode TOKEN",
		Short: "Verify a token's signature and print its claims",
		Long:  "Verify a token's signature and print its claims. Expired tokens are printed with expired=true.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := ks.load()
			if err != nil {
				return err
			}
			codec, err := token.NewCodec(kp)
			if err != nil {
				return err
			}

			claims, err := codec.Decode(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), describe(claims, time.Now()))
		},
	}
}
