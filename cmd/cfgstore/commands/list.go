package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func NewListCommand(cfg *config.Config) *cobra.Command {
	var (
		envName    string
		reveal     bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list <namespace>",
		Short: "List the keys of a namespace",
		Long: `List the current entries of a namespace in one environment.

Secret values are masked unless --reveal is given. Secrets you are not
allowed to read are always shown as <redacted>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvironment(envName)
			if err != nil {
				return err
			}

			return withRuntime(cmd, cfg, func(ctx context.Context, rt *runtime) error {
				entries, err := rt.manager.List(ctx, args[0], env)
				if err != nil {
					return err
				}
				if !reveal {
					entries = maskSecrets(entries)
				}

				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(entries)
				}
				if len(entries) == 0 {
					rt.logger.Info("No keys in %s (%s)", args[0], env)
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tVERSION\tTYPE\tVALUE\tUPDATED\tBY")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
						e.Key, e.Version, kindOf(e), displayValue(e, reveal), formatTime(e.UpdatedAt), e.Author)
				}
				return w.Flush()
			})
		},
	}

	addEnvFlag(cmd, &envName)
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show decrypted secret values")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output entries as JSON")

	return cmd
}

// maskSecrets redacts readable secrets for output that was not asked to
// reveal them.
func maskSecrets(entries []*configstore.Entry) []*configstore.Entry {
	out := make([]*configstore.Entry, len(entries))
	for i, e := range entries {
		if e.IsSecret && !e.Redacted {
			e = e.Redact()
		}
		out[i] = e
	}
	return out
}
