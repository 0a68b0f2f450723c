package main

import (
	"github.com/spf13/cobra"
)

func newJWKSCmd(ks *keystoreFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "jwks",
		Short: "Print the public verification key as a JWK Set",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := ks.load()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), kp.JWKS())
		},
	}
}
