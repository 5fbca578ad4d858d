package cli

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/neuroflow/internal/config"
)

// ParseSet разбирает переопределения KEY=VALUE.
//
// Значение читается как YAML-скаляр: "true" становится bool, "8" — int,
// "0.5" — float64, остальное — строкой.
func ParseSet(sets []string) (config.Options, error) {
	if len(sets) == 0 {
		return nil, nil
	}

	opts := make(config.Options, len(sets))
	for _, kv := range sets {
		key, raw, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option format %q, expected KEY=VALUE", kv)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("option %s: %w", key, err)
		}
		if value == nil {
			value = raw
		}
		switch value.(type) {
		case bool, int, float64, string:
		default:
			return nil, fmt.Errorf("option %s: value %q is not a scalar", key, raw)
		}
		opts[key] = value
	}
	return opts, nil
}
