package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/cfgstore/internal/audit"
	"github.com/systmms/cfgstore/internal/config"
	dserrors "github.com/systmms/cfgstore/internal/errors"
)

// NewAuditCommand reads back the trail written by file audit sinks.
func NewAuditCommand(cfg *config.Config) *cobra.Command {
	var (
		file       string
		actor      string
		namespace  string
		key        string
		envName    string
		types      []string
		since      string
		until      string
		limit      int
		countOnly  bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail",
		Long: `Show audit events recorded by the file audit sinks, oldest first.

Events can be filtered by who made the change, which key was changed and
when. Secret values never appear in the trail.`,
		Example: `  # Last 50 changes
  cfgstore audit

  # Everything alice changed in production
  cfgstore audit --actor alice --env production --limit 0

  # Rollbacks of one key in March
  cfgstore audit --namespace app/llm --key model --type config.rolled_back --since 2026-03-01 --until 2026-03-31

  # Number of secret changes
  cfgstore audit --type secret.modified --count`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := audit.Query{Actor: actor, Namespace: namespace, Key: key, Limit: limit}
			if envName != "" {
				env, err := parseEnvironment(envName)
				if err != nil {
					return err
				}
				q.Environment = env.String()
			}
			for _, t := range types {
				q.Types = append(q.Types, audit.EventType(t))
			}

			var err error
			if q.Since, err = parseDate(since, "since"); err != nil {
				return err
			}
			if q.Until, err = parseDate(until, "until"); err != nil {
				return err
			}
			if !q.Until.IsZero() {
				q.Until = q.Until.Add(24*time.Hour - time.Nanosecond)
			}

			paths, err := auditFiles(cfg, file)
			if err != nil {
				return err
			}

			var events []audit.Event
			total := 0
			for _, path := range paths {
				res, err := audit.ReadFile(cmd.Context(), path, q)
				if err != nil {
					return err
				}
				if res.Skipped > 0 {
					cfg.Logger.Warn("Skipped %d unreadable line(s) in %s", res.Skipped, path)
				}
				events = append(events, res.Events...)
				total += res.Total
			}
			sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
			if limit > 0 && len(events) > limit {
				events = events[len(events)-limit:]
			}

			if countOnly {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), total)
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if events == nil {
					events = []audit.Event{}
				}
				return enc.Encode(events)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tACTOR\tTARGET\tVERSION\tCHANGE")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					formatTime(e.Timestamp), e.Type, e.Actor, auditTarget(e), auditVersion(e), auditChange(e))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if total > len(events) {
				fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d of %d events (use --limit 0 for all)\n", len(events), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Read this JSONL audit file instead of the configured file sinks")
	cmd.Flags().StringVar(&actor, "actor", "", "Only events by this user")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Only events in this namespace")
	cmd.Flags().StringVar(&key, "key", "", "Only events for this key")
	cmd.Flags().StringVarP(&envName, "env", "e", "", "Only events in this environment")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these event types (e.g. config.updated, secret.modified)")
	cmd.Flags().StringVar(&since, "since", "", "Only events on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "Only events on or before this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Show at most this many of the newest events (0 for all)")
	cmd.Flags().BoolVar(&countOnly, "count", false, "Print only the number of matching events")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON")

	return cmd
}

// auditFiles returns the trails to read: --file when given, otherwise
// every configured file sink.
func auditFiles(cfg *config.Config, file string) ([]string, error) {
	if file != "" {
		return []string{file}, nil
	}
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	var paths []string
	for _, sc := range cfg.Definition.Audit.Sinks {
		if sc.Type == "file" {
			paths = append(paths, sc.Path)
		}
	}
	if len(paths) == 0 {
		return nil, dserrors.UserError{
			Message:    "No file audit sink is configured",
			Suggestion: "Add an audit sink with 'type: file' to the configuration, or pass --file",
		}
	}
	return paths, nil
}

func parseDate(s, flag string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, dserrors.UserError{
			Message:    fmt.Sprintf("Invalid --%s date '%s'", flag, s),
			Suggestion: "Use the YYYY-MM-DD format",
			Err:        err,
		}
	}
	return t, nil
}

func auditTarget(e audit.Event) string {
	if e.Namespace == "" {
		return "-"
	}
	return fmt.Sprintf("%s/%s@%s", e.Namespace, e.Key, e.Environment)
}

func auditVersion(e audit.Event) string {
	switch {
	case e.Version == 0:
		return "-"
	case e.PreviousVersion == 0:
		return fmt.Sprintf("%d", e.Version)
	}
	return fmt.Sprintf("%d -> %d", e.PreviousVersion, e.Version)
}

func auditChange(e audit.Event) string {
	if e.Redacted {
		return "<redacted>"
	}
	var parts []string
	if e.OldValue != nil {
		parts = append(parts, truncate(e.OldValue.String(), 25))
	}
	if e.NewValue != nil {
		parts = append(parts, truncate(e.NewValue.String(), 25))
	}
	if len(parts) == 0 {
		if len(e.Details) == 0 {
			return ""
		}
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+"="+e.Details[k])
		}
		return strings.Join(parts, " ")
	}
	return strings.Join(parts, " -> ")
}
