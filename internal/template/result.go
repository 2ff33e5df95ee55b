package template

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// parseResult turns rendered text into a native value: integers, floats,
// booleans and JSON lists or objects are decoded; anything else stays a
// string.
func parseResult(rendered string) any {
	s := strings.TrimSpace(rendered)
	if s == "" {
		return s
	}

	switch s {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}

	if looksNumeric(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}

	if (s[0] == '[' || s[0] == '{') && json.Valid([]byte(s)) {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

// looksNumeric rejects values that parse as numbers but read as
// identifiers, such as "007" or "1e5".
func looksNumeric(s string) bool {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" {
		return false
	}
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return false
	}
	for _, r := range digits {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
