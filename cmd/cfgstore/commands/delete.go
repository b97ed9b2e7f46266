package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func NewDeleteCommand(cfg *config.Config) *cobra.Command {
	var envName string

	cmd := &cobra.Command{
		Use:   "delete <namespace> <key>",
		Short: "Delete a key",
		Long: `Delete a key by recording a deletion as its next version.

Earlier versions are kept. Restore one with 'cfgstore rollback'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvironment(envName)
			if err != nil {
				return err
			}

			return withRuntime(cmd, cfg, func(ctx context.Context, rt *runtime) error {
				version, err := rt.manager.Delete(ctx, args[0], args[1], env, cfg.User)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s at version %d\n", configstore.NewTuple(args[0], args[1], env), version)
				return err
			})
		},
	}

	addEnvFlag(cmd, &envName)
	return cmd
}
