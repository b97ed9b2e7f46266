package template

import (
	"encoding/json"
	"strings"
)

// marshalJSON marshals an interface to JSON with proper formatting
func (r *Renderer) marshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// envName turns a configuration key into an environment variable name:
// upper case, with every character outside [A-Z0-9_] replaced by '_'.
// A leading digit gets an underscore prefix.
func envName(key string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(key) {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// quoteDotenv double-quotes values that a dotenv parser would otherwise
// split or expand.
func quoteDotenv(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\r\n\"'\\#$`=") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "$", `\$`, "`", "\\`")
	return `"` + r.Replace(s) + `"`
}
