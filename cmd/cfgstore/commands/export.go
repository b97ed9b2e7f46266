package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
)

func NewExportCommand(cfg *config.Config) *cobra.Command {
	var (
		envName string
		format  string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "export <namespace>",
		Short: "Write a namespace as dotenv, JSON or YAML",
		Long: `Write every current key of a namespace in one environment.

Secrets you may read are written in clear text. Output files are created
with mode 0600.

Examples:
  cfgstore export app/llm --env production > .env
  cfgstore export app/llm --env staging --format json --output config.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvironment(envName)
			if err != nil {
				return err
			}

			return withRuntime(cmd, cfg, func(ctx context.Context, rt *runtime) error {
				var buf bytes.Buffer
				if err := rt.manager.Export(ctx, args[0], env, format, &buf); err != nil {
					return err
				}
				if output == "" {
					_, err := cmd.OutOrStdout().Write(buf.Bytes())
					return err
				}
				if err := os.WriteFile(output, buf.Bytes(), 0o600); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				rt.logger.Info("Wrote %s", output)
				return nil
			})
		},
	}

	addEnvFlag(cmd, &envName)
	cmd.Flags().StringVarP(&format, "format", "f", "env", "Output format (env, json, yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")

	return cmd
}
