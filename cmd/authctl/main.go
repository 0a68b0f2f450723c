// Command authctl issues and inspects ticket-logger-api access tokens.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/iesalixar/ticket-logger-api/keys"
	"github.com/spf13/cobra"
)

// keystoreFlags locate the signing keystore. Defaults come from the same
// environment variables the server reads.
type keystoreFlags struct {
	path     string
	password string
	alias    string
	kind     string
}

func (f *keystoreFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.path, "keystore", os.Getenv("JWT_KEYSTORE_PATH"), "Path to the PKCS12 keystore or PEM bundle")
	cmd.PersistentFlags().StringVar(&f.password, "keystore-password", os.Getenv("JWT_KEYSTORE_PASSWORD"), "Keystore password")
	cmd.PersistentFlags().StringVar(&f.alias, "keystore-alias", os.Getenv("JWT_KEYSTORE_ALIAS"), "Alias of the signing key entry")
	cmd.PersistentFlags().StringVar(&f.kind, "keystore-type", envOr("JWT_KEYSTORE_TYPE", keys.TypePKCS12), "Keystore type (PKCS12 or PEM)")
}

func (f *keystoreFlags) load() (*keys.KeyPair, error) {
	return keys.Load(keys.StoreConfig{
		Path:     f.path,
		Password: f.password,
		Alias:    f.alias,
		Type:     f.kind,
	})
}

func newRootCmd() *cobra.Command {
	ks := &keystoreFlags{}

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Issue and inspect ticket-logger-api access tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	ks.register(root)

	root.AddCommand(
		newIssueCmd(ks),
		newDecodeCmd(ks),
		newVerifyCmd(ks),
		newJWKSCmd(ks),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
