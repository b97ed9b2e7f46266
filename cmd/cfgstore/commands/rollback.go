package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func NewRollbackCommand(cfg *config.Config) *cobra.Command {
	var (
		envName string
		target  int64
	)

	cmd := &cobra.Command{
		Use:   "rollback <namespace> <key> --to <version>",
		Short: "Restore an earlier version of a key",
		Long: `Restore an earlier version by committing its value as a new version.

History is never rewritten: rolling back from version 5 to version 2
creates version 6 holding the value of version 2.

Example:
  cfgstore rollback app/llm model --env production --to 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvironment(envName)
			if err != nil {
				return err
			}

			return withRuntime(cmd, cfg, func(ctx context.Context, rt *runtime) error {
				version, err := rt.manager.Rollback(ctx, args[0], args[1], env, target, cfg.User)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s to version %d as version %d\n",
					configstore.NewTuple(args[0], args[1], env), target, version)
				return err
			})
		},
	}

	addEnvFlag(cmd, &envName)
	cmd.Flags().Int64Var(&target, "to", 0, "Version to restore")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
