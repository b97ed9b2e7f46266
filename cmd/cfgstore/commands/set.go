package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/pkg/configstore"
	"github.com/systmms/cfgstore/pkg/manager"
)

func NewSetCommand(cfg *config.Config) *cobra.Command {
	var (
		envName         string
		secret          bool
		typeName        string
		description     string
		expectedVersion int64
	)

	cmd := &cobra.Command{
		Use:   "set <namespace> <key> <value>",
		Short: "Store a new version of a key",
		Long: `Store a value as the next version of a key.

Every write creates a new version; earlier versions stay in the history.
Pass "-" as the value to read it from stdin, which keeps secrets out of
your shell history.

Examples:
  cfgstore set app/llm model gpt-4-turbo --env production
  cfgstore set app/llm max_tokens 4096 --type int --env production
  cfgstore set app/llm limits '{"rpm": 60}' --type json
  cat key.txt | cfgstore set app/llm api_key - --secret --env production

  # Only write if nobody changed the key since version 3
  cfgstore set app/llm model o1 --env production --expect-version 3`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvironment(envName)
			if err != nil {
				return err
			}
			kind, err := configstore.ParseKind(typeName)
			if err != nil {
				return dserrors.FromDomain(err)
			}

			raw := args[2]
			if raw == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read value from stdin: %w", err)
				}
				raw = strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")
			}
			value, err := configstore.ParseValue(kind, raw)
			if err != nil {
				return dserrors.FromDomain(err)
			}

			return withRuntime(cmd, cfg, func(ctx context.Context, rt *runtime) error {
				req := manager.SetRequest{
					Namespace:       args[0],
					Key:             args[1],
					Environment:     env,
					Value:           value,
					Author:          cfg.User,
					Description:     description,
					ExpectedVersion: expectedVersion,
				}
				write := rt.manager.Set
				if secret {
					write = rt.manager.SetSecret
				}
				version, err := write(ctx, req)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is now at version %d\n", configstore.NewTuple(args[0], args[1], env), version)
				return err
			})
		},
	}

	addEnvFlag(cmd, &envName)
	cmd.Flags().BoolVar(&secret, "secret", false, "Encrypt the value at rest")
	cmd.Flags().StringVar(&typeName, "type", "string", "Value type (string, int, float, bool, json)")
	cmd.Flags().StringVarP(&description, "description", "m", "", "Note stored with this version")
	cmd.Flags().Int64Var(&expectedVersion, "expect-version", 0, "Fail unless the current version matches")

	return cmd
}
