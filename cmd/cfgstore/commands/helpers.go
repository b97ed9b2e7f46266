package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/config"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/pkg/configstore"
	"github.com/systmms/cfgstore/pkg/manager"
)

// parseEnvironment resolves the --env flag.
func parseEnvironment(name string) (configstore.Environment, error) {
	env, err := configstore.ParseEnvironment(name)
	if err != nil {
		return 0, dserrors.UserError{
			Message:    fmt.Sprintf("Unknown environment '%s'", name),
			Suggestion: "Use one of: " + strings.Join(environmentNames(), ", "),
			Err:        err,
		}
	}
	return env, nil
}

func environmentNames() []string {
	names := make([]string, 0, len(configstore.Environments))
	for _, env := range configstore.Environments {
		names = append(names, env.String())
	}
	return names
}

func addEnvFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "env", "e", "base", "Environment ("+strings.Join(environmentNames(), ", ")+")")
}

// withRuntime opens the configured runtime, runs fn as the current user and
// turns domain errors into user-facing ones.
func withRuntime(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, rt *runtime) error) (err error) {
	rt, err := openRuntime(cmd.Context(), cfg)
	if err != nil {
		return dserrors.FromDomain(err)
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			rt.logger.Warn("Shutdown: %v", cerr)
		}
	}()

	ctx := manager.WithCaller(cmd.Context(), cfg.User)
	return dserrors.FromDomain(fn(ctx, rt))
}

// displayValue renders an entry's value for tables. Secrets are masked
// unless reveal is set.
func displayValue(e *configstore.Entry, reveal bool) string {
	switch {
	case e.Tombstone:
		return "<deleted>"
	case e.Redacted:
		return "<redacted>"
	case e.IsSecret && !reveal:
		return "********"
	}
	return truncate(e.Value.String(), 60)
}

func kindOf(e *configstore.Entry) string {
	switch {
	case e.Tombstone:
		return "-"
	case e.IsSecret:
		return "secret"
	case e.Redacted:
		return "secret"
	}
	return e.Value.Kind().String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
