package automation

import "strings"

// asBool interprets a rendered template result as a boolean.
func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "on", "enable", "1":
			return true
		}
	}
	return false
}
