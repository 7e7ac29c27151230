package config

import "strings"

// fieldPath turns a validator namespace such as "Config.Server.URL" into the
// YAML key "server.url".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = yamlKey(p)
	}
	return strings.Join(parts, ".")
}

// yamlKey converts a Go field name to its snake_case YAML key.
func yamlKey(field string) string {
	if strings.ToUpper(field) == field {
		return strings.ToLower(field)
	}
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
