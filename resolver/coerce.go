package resolver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseData folds repeated -d flags into a single parameter object.
// Each flag is either a JSON object literal, merged key by key, or a
// key=value pair with the value coerced to its natural JSON type.
// Later flags win on key collisions.
func ParseData(dataFlags []string) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	for _, raw := range dataFlags {
		stripped := strings.TrimSpace(raw)
		if strings.HasPrefix(stripped, "{") {
			parsed := map[string]interface{}{}
			if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
				return nil, fmt.Errorf("invalid JSON in -d flag %q: %v", raw, err)
			}
			for key, value := range parsed {
				result[key] = value
			}
			continue
		}
		if strings.HasPrefix(stripped, "[") {
			return nil, fmt.Errorf("JSON arrays are not supported in -d flag: use key=value or JSON objects")
		}
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid data format %q: expected key=value or JSON", raw)
		}
		result[key] = coerceValue(value)
	}
	return result, nil
}

// coerceValue turns a flag value string into bool, number, JSON structure or string.
func coerceValue(value string) interface{} {
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	stripped := strings.TrimSpace(value)
	if strings.HasPrefix(stripped, "[") || strings.HasPrefix(stripped, "{") {
		var structured interface{}
		if err := json.Unmarshal([]byte(value), &structured); err == nil {
			return structured
		}
	}
	return value
}
