package pipeline

import (
	"fmt"
	"sort"

	"github.com/shaiso/neuroflow/internal/config"
	"github.com/shaiso/neuroflow/internal/domain"
)

// Fixed — селектор, всегда выбирающий один вариант.
func Fixed(id VariantID) Selector {
	return func(config.Options) (VariantID, error) {
		return id, nil
	}
}

// BoolSwitch — селектор по булеву ключу.
//
// Парные булевы флаги вида "A→B или B→A" моделируются одним селектором,
// поэтому недопустимые комбинации невозможны. Отсутствие ключа — ошибка.
func BoolSwitch(key string, ifTrue, ifFalse VariantID) Selector {
	return func(opts config.Options) (VariantID, error) {
		b, present, err := opts.Bool(key)
		if err != nil {
			return "", err
		}
		if !present {
			return "", config.NewConfigurationError(key, nil, "required to select variant", config.ErrMissingOption)
		}
		if b {
			return ifTrue, nil
		}
		return ifFalse, nil
	}
}

// EnumSwitch — селектор по строковому ключу с перечислимыми значениями.
func EnumSwitch(key string, choices map[string]VariantID) Selector {
	allowed := make([]string, 0, len(choices))
	for k := range choices {
		allowed = append(allowed, k)
	}
	sort.Strings(allowed)

	return func(opts config.Options) (VariantID, error) {
		s, present, err := opts.String(key)
		if err != nil {
			return "", err
		}
		if !present {
			return "", config.NewConfigurationError(key, nil, "required to select variant", config.ErrMissingOption)
		}
		id, ok := choices[s]
		if !ok {
			return "", config.NewConfigurationError(key, s, fmt.Sprintf("must be one of %v", allowed), config.ErrInvalidOption)
		}
		return id, nil
	}
}

// WhenFlagAndSupplied — условие необязательного хвоста: булев ключ
// включён и внешний артефакт передан. Незаданный ключ означает "выключено".
func WhenFlagAndSupplied(key string, at domain.ArtifactType) Condition {
	return func(opts config.Options, supplied func(domain.ArtifactType) bool) (bool, error) {
		b, _, err := opts.Bool(key)
		if err != nil {
			return false, err
		}
		return b && supplied(at), nil
	}
}
