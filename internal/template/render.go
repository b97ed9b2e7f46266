// Package template renders configuration values as dotenv, JSON or YAML
// documents.
package template

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/systmms/cfgstore/internal/logging"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

const (
	FormatEnv  Format = "env"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Formats lists every supported format.
var Formats = []Format{FormatEnv, FormatJSON, FormatYAML}

// ParseFormat accepts a format name. "dotenv" and "yml" are aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "env", "dotenv", "":
		return FormatEnv, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported format %q (supported: env, json, yaml)", s)
}

// Variable is one rendered key. Value is a plain Go value: string, int64,
// float64, bool, or a decoded JSON document.
type Variable struct {
	Name  string
	Value interface{}
}

// Renderer writes variables in one of the supported formats.
type Renderer struct {
	logger *logging.Logger
}

// New creates a renderer.
func New(logger *logging.Logger) *Renderer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Renderer{logger: logger}
}

// Render writes vars to w. Output is sorted by name.
func (r *Renderer) Render(w io.Writer, format Format, vars []Variable) error {
	sorted := append([]Variable(nil), vars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	switch format {
	case FormatEnv:
		return r.renderDotenv(w, sorted)
	case FormatJSON:
		data, err := r.marshalJSON(toMap(sorted))
		if err != nil {
			return fmt.Errorf("render json: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toMap(sorted)); err != nil {
			return fmt.Errorf("render yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported format %q", format)
}

func (r *Renderer) renderDotenv(w io.Writer, vars []Variable) error {
	seen := make(map[string]string, len(vars))
	for _, v := range vars {
		name := envName(v.Name)
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("keys %q and %q both map to %s", prev, v.Name, name)
		}
		seen[name] = v.Name

		value, err := r.scalar(v.Value)
		if err != nil {
			return fmt.Errorf("render %s: %w", v.Name, err)
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", name, quoteDotenv(value)); err != nil {
			return err
		}
	}
	r.logger.Debug("rendered %d variables", len(vars))
	return nil
}

// scalar flattens a value for formats without nesting. Documents become
// compact JSON.
func (r *Renderer) scalar(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case nil:
		return "", nil
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return fmt.Sprint(val), nil
	}
}

func toMap(vars []Variable) map[string]interface{} {
	m := make(map[string]interface{}, len(vars))
	for _, v := range vars {
		m[v.Name] = v.Value
	}
	return m
}
