package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func configString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok || value == nil {
		return "", false
	}

	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

func requiredString(config map[string]any, key string) (string, error) {
	value, ok := configString(config, key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingConfigField, key)
	}

	return value, nil
}

func configBool(config map[string]any, key string) bool {
	switch v := config[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)

		return b
	default:
		return false
	}
}

// configStrings accepts either a list or a single comma separated string.
func configStrings(config map[string]any, keys ...string) []string {
	var out []string

	for _, key := range keys {
		switch v := config[key].(type) {
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		case []string:
			for _, s := range v {
				if strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				if strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		}
	}

	return out
}

// configDuration reads "seconds", "minutes", "hours" or a Go duration string
// from "duration".
func configDuration(config map[string]any) (time.Duration, bool, error) {
	units := []struct {
		key  string
		unit time.Duration
	}{
		{"seconds", time.Second},
		{"minutes", time.Minute},
		{"hours", time.Hour},
	}

	for _, u := range units {
		raw, ok := configString(config, u.key)
		if !ok {
			continue
		}

		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s", ErrInvalidConfigField, u.key)
		}

		return time.Duration(n * float64(u.unit)), true, nil
	}

	raw, ok := configString(config, "duration")
	if !ok {
		return 0, false, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%w: duration", ErrInvalidConfigField)
	}

	return d, true, nil
}
