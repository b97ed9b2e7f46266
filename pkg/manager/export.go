package manager

import (
	"context"
	"io"

	"github.com/systmms/cfgstore/internal/template"
	"github.com/systmms/cfgstore/pkg/configstore"
)

// Export writes the current entries of namespace in env to w as dotenv,
// JSON or YAML. Secrets the caller may not read are left out.
func (m *Manager) Export(ctx context.Context, namespace string, env configstore.Environment, format string, w io.Writer) error {
	f, err := template.ParseFormat(format)
	if err != nil {
		return configstore.ValidationError{Kind: configstore.TypeMismatch, Field: "format", Message: err.Error()}
	}

	subject := CallerFrom(ctx)
	scope, err := scopeOf(namespace, env)
	if err != nil {
		return err
	}
	if err := m.require(ctx, subject, configstore.ActionExport, configstore.ResourceConfig, scope); err != nil {
		return err
	}

	entries, err := m.list(ctx, subject, namespace, env)
	if err != nil {
		return err
	}

	vars := make([]template.Variable, 0, len(entries))
	var skipped []string
	for _, e := range entries {
		if e.Redacted {
			skipped = append(skipped, e.Key)
			continue
		}
		vars = append(vars, template.Variable{Name: e.Key, Value: e.Value.Interface()})
	}
	if len(skipped) > 0 {
		m.logger.Warn("Skipped %d secret(s) %s may not read: %v", len(skipped), subject, skipped)
	}
	return m.renderer.Render(w, f, vars)
}
