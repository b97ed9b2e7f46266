package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/cache"
	"github.com/systmms/cfgstore/internal/config"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/internal/logging"
	"github.com/systmms/cfgstore/internal/rbac"
	"github.com/systmms/cfgstore/internal/validation"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, keys, storage and cache",
		Long: `Verify that every configured component is usable.

This command checks:
- Configuration file validity
- The master key and any previous keys
- Storage backend connectivity
- The shared cache tier, when configured
- The RBAC policy, validation schemas and audit sinks`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking cfgstore configuration...")
			if err := cfg.Load(); err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return err
			}
			cfg.Logger.Info("✓ Configuration loaded from %s", cfg.Path)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			results := runChecks(ctx, cfg.Definition)
			displayHealthResults(cmd.OutOrStdout(), results)

			healthy := 0
			for _, r := range results {
				if r.Err == nil {
					healthy++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nSummary: %d/%d components healthy\n", healthy, len(results))
			if healthy < len(results) {
				return errors.New("some components are not healthy")
			}
			cfg.Logger.Info("✓ All systems operational!")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Overall time limit for the checks")
	return cmd
}

// ComponentHealth is the outcome of one check.
type ComponentHealth struct {
	Name    string
	Kind    string
	Message string
	Err     error
}

func runChecks(ctx context.Context, def *config.Definition) []ComponentHealth {
	var results []ComponentHealth
	check := func(name, kind string, fn func() (string, error)) {
		msg, err := fn()
		results = append(results, ComponentHealth{Name: name, Kind: kind, Message: msg, Err: err})
	}

	check("master key", def.Crypto.KeySource.Type, func() (string, error) {
		keys, err := openKeyring(ctx, def)
		if err != nil {
			return "", err
		}
		defer keys.Close()
		msg := "key " + keys.PrimaryID()
		if n := len(def.Crypto.PreviousKeys); n > 0 {
			msg += fmt.Sprintf(", %d previous", n)
		}
		return msg, nil
	})

	check("storage", def.Storage.Backend, func() (string, error) {
		backend, err := openBackend(ctx, def)
		if err != nil {
			return "", err
		}
		defer backend.Close()
		if _, err := backend.Keys(ctx, "cfgstore", configstore.Base); err != nil && !configstore.IsNotFound(err) {
			return "", configstore.StorageError{Op: "list", Err: err}
		}
		return "reachable", nil
	})

	if def.Cache.L2.Kind == "redis" {
		check("cache l2", "redis", func() (string, error) {
			r, err := cache.DialRedis(def.RedisOptions())
			if err != nil {
				return "", err
			}
			defer r.Close()
			if err := r.Ping(ctx); err != nil {
				return "", configstore.CacheError{Tier: "l2", Op: "ping", Err: err}
			}
			return "reachable", nil
		})
	}

	if def.RBAC.PolicyFile != "" {
		check("rbac", "policy", func() (string, error) {
			if _, err := rbac.LoadPolicy(def.RBAC.PolicyFile); err != nil {
				return "", err
			}
			return def.RBAC.PolicyFile, nil
		})
	}

	check("validation", "schemas", func() (string, error) {
		if _, err := validation.New(def.ValidationConfig()); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d schema(s)", len(def.Validation.Schemas)), nil
	})

	for i, sc := range def.Audit.Sinks {
		single := &config.Definition{Audit: config.AuditConfig{Sinks: []config.SinkConfig{sc}}}
		check(fmt.Sprintf("audit sink %d", i), sc.Type, func() (string, error) {
			sinks, err := openSinks(single, logging.Nop())
			if err != nil {
				return "", err
			}
			for _, s := range sinks {
				_ = s.Close()
			}
			return "ready", nil
		})
	}

	return results
}

// displayHealthResults shows component health in a formatted table
func displayHealthResults(out io.Writer, results []ComponentHealth) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "COMPONENT\tTYPE\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "---------\t----\t------\t-------\n")

	for _, r := range results {
		status, message := "✓ healthy", r.Message
		if r.Err != nil {
			status, message = "✗ error", r.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Kind, status, message)
	}
	_ = w.Flush()

	for _, r := range results {
		var ue dserrors.UserError
		if r.Err == nil || !errors.As(dserrors.FromDomain(r.Err), &ue) || ue.Suggestion == "" {
			continue
		}
		_, _ = fmt.Fprintf(out, "\n%s: 💡 %s\n", r.Name, ue.Suggestion)
	}
}
