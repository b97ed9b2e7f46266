package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func NewGetCommand(cfg *config.Config) *cobra.Command {
	var (
		envName       string
		withOverrides bool
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "get <namespace> <key>",
		Short: "Print the current value of a key",
		Long: `Print the current value of a key in one environment.

Only the raw value is written to stdout, so the output can be used in
scripts. Secrets are decrypted when you are allowed to read them.

Examples:
  # Read a value
  cfgstore get app/llm model --env production

  # Fall back to the base environment when production has no value
  cfgstore get app/llm temperature --env production --with-overrides

  # Full entry with version metadata
  cfgstore get app/llm model --env production --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvironment(envName)
			if err != nil {
				return err
			}

			return withRuntime(cmd, cfg, func(ctx context.Context, rt *runtime) error {
				get := rt.manager.Get
				if withOverrides {
					get = rt.manager.GetWithOverrides
				}
				e, err := get(ctx, args[0], args[1], env)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(e)
				}
				if e.Redacted {
					return dserrors.UserError{
						Message:    fmt.Sprintf("%s is a secret you may not read", configstore.NewTuple(args[0], args[1], env)),
						Suggestion: "Ask for read access to secrets in this namespace",
					}
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), e.Value.String())
				return err
			})
		},
	}

	addEnvFlag(cmd, &envName)
	cmd.Flags().BoolVar(&withOverrides, "with-overrides", false, "Fall back to the base environment when the key is missing")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full entry as JSON")

	return cmd
}
