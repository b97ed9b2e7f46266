package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
)

func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var (
		envName    string
		reveal     bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history <namespace> <key>",
		Short: "Show every version of a key",
		Long: `Show every version of a key, oldest first, including deletions.

Any listed version can be restored with 'cfgstore rollback'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvironment(envName)
			if err != nil {
				return err
			}

			return withRuntime(cmd, cfg, func(ctx context.Context, rt *runtime) error {
				history, err := rt.manager.History(ctx, args[0], args[1], env)
				if err != nil {
					return err
				}
				if !reveal {
					history = maskSecrets(history)
				}

				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(history)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tVALUE\tAUTHOR\tUPDATED\tDESCRIPTION")
				for _, e := range history {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
						e.Version, displayValue(e, reveal), e.Author, formatTime(e.UpdatedAt), e.Description)
				}
				return w.Flush()
			})
		},
	}

	addEnvFlag(cmd, &envName)
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show decrypted secret values")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output versions as JSON")

	return cmd
}
