package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
	"github.com/systmms/cfgstore/internal/crypto"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/internal/keysource"
	"github.com/systmms/cfgstore/internal/secure"
	"github.com/systmms/cfgstore/pkg/manager"
)

func NewKeygenCommand(cfg *config.Config) *cobra.Command {
	var (
		asHex bool
		store bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new master key",
		Long: `Generate a random 256-bit master key.

The key is printed base64 encoded unless --hex is given. With --store it
is written to the configured key source instead (file and keyring sources
only) and nothing is printed.

Examples:
  export CFGSTORE_KEY=$(cfgstore keygen)
  cfgstore keygen --store`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := manager.GenerateKey()
			if err != nil {
				return err
			}
			defer secure.Wipe(key)

			if !store {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), crypto.EncodeKey(key, asHex))
				return err
			}

			if err := cfg.Load(); err != nil {
				return err
			}
			ks := cfg.Definition.Crypto.KeySource
			src, err := keysource.NewRegistry().Create(ks.Type, ks.Config)
			if err != nil {
				return err
			}
			storer, ok := src.(keysource.Storer)
			if !ok {
				return dserrors.UserError{
					Message:    fmt.Sprintf("Key source '%s' cannot store keys", ks.Type),
					Suggestion: "Print the key with 'cfgstore keygen' and store it yourself, or switch crypto.key_source to file or keyring",
				}
			}
			if err := storer.Store(cmd.Context(), key); err != nil {
				return dserrors.FromDomain(err)
			}
			cfg.Logger.Info("✓ Stored a new master key in %s", src.Name())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asHex, "hex", false, "Print the key hex encoded")
	cmd.Flags().BoolVar(&store, "store", false, "Write the key to the configured key source")

	return cmd
}
