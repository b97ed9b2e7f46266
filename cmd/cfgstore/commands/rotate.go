package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
	"github.com/systmms/cfgstore/internal/crypto"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/internal/secure"
)

func NewRotateKeyCommand(cfg *config.Config) *cobra.Command {
	var (
		keyEnv  string
		keyFile string
	)

	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Re-encrypt every secret with a new master key",
		Long: `Make a new master key primary and re-encrypt every stored secret version.

The current key is loaded from crypto.key_source as usual. The new key is
read from an environment variable or a file, never from the command line.
After a successful rotation point crypto.key_source at the new key. If
re-encryption stops part-way, list the old key under crypto.previous_keys
and run the rotation again.

Examples:
  CFGSTORE_NEW_KEY=$(cfgstore keygen) cfgstore rotate-key --new-key-env CFGSTORE_NEW_KEY
  cfgstore rotate-key --new-key-file ~/.config/cfgstore/next.key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readNewKey(keyEnv, keyFile)
			if err != nil {
				return err
			}
			defer secure.Wipe(key)

			return withRuntime(cmd, cfg, func(ctx context.Context, rt *runtime) error {
				res, err := rt.manager.RotateKey(ctx, key, cfg.User)
				if res != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Previous key: %s\nNew key:      %s\nRe-encrypted: %d version(s)\n",
						res.PreviousKeyID, res.KeyID, res.Reencrypted)
				}
				if err != nil {
					return err
				}
				rt.logger.Info("✓ Rotation complete. Update crypto.key_source to the new key before the next run")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&keyEnv, "new-key-env", "", "Environment variable holding the new key")
	cmd.Flags().StringVar(&keyFile, "new-key-file", "", "File holding the new key")
	cmd.MarkFlagsMutuallyExclusive("new-key-env", "new-key-file")

	return cmd
}

func readNewKey(envVar, file string) ([]byte, error) {
	var encoded string
	switch {
	case envVar != "":
		encoded = os.Getenv(envVar)
		if encoded == "" {
			return nil, dserrors.UserError{
				Message:    fmt.Sprintf("Environment variable %s is empty", envVar),
				Suggestion: "Generate a key with 'cfgstore keygen' and export it",
			}
		}
	case file != "":
		data, err := os.ReadFile(file) // #nosec G304 -- operator-supplied path
		if err != nil {
			return nil, dserrors.UserError{Message: "Cannot read the new key", Details: err.Error(), Err: err}
		}
		defer secure.Wipe(data)
		encoded = string(data)
	default:
		return nil, dserrors.UserError{
			Message:    "No new key given",
			Suggestion: "Pass --new-key-env or --new-key-file",
		}
	}

	key, err := crypto.DecodeKey(encoded)
	if err != nil {
		return nil, dserrors.UserError{
			Message:    "The new key is not valid",
			Details:    err.Error(),
			Suggestion: "Keys are 32 random bytes, base64 or hex encoded. Generate one with 'cfgstore keygen'",
			Err:        err,
		}
	}
	return key, nil
}
