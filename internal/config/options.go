package config

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// Kind — тип значения опции.
type Kind string

const (
	KindBool   Kind = "bool"
	KindEnum   Kind = "enum"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindPath   Kind = "path"
)

// Option — объявление распознаваемого ключа конфигурации.
type Option struct {
	Key         string
	Kind        Kind
	Enum        []string
	Min         *float64
	Max         *float64
	Default     any
	Description string
}

// Options — конфигурация run: плоская map ключ → значение.
// Неизвестные ключи игнорируются.
type Options map[string]any

func bound(v float64) *float64 { return &v }

// Schema — все распознаваемые ключи.
var Schema = []Option{
	// Порядок ко-регистрации
	{Key: "coreg.anat2pet", Kind: KindBool, Default: true, Description: "co-register structural to PET (false: PET to structural)"},
	{Key: "coreg.anat2rest", Kind: KindBool, Default: true, Description: "co-register structural to functional (false: functional to structural)"},
	{Key: "coreg.anat2dwi", Kind: KindBool, Default: true, Description: "co-register structural to diffusion b0 (false: b0 to structural)"},

	// Групповые шаблоны
	{Key: "pet.group_template", Kind: KindBool, Default: false, Description: "build a cohort PET template and re-normalize subjects to it"},
	{Key: "pet.group_template_file", Kind: KindPath, Description: "pre-supplied PET group template"},
	{Key: "functional.group_template", Kind: KindBool, Default: false, Description: "build a cohort fMRI template"},
	{Key: "functional.group_template_file", Kind: KindPath, Description: "pre-supplied fMRI group template"},
	{Key: "diffusion.group_template", Kind: KindBool, Default: false, Description: "build a cohort FA template"},
	{Key: "diffusion.group_template_file", Kind: KindPath, Description: "pre-supplied FA group template"},

	// Атлас
	{Key: "normalize.atlas", Kind: KindBool, Default: false, Description: "warp the atlas into subject space"},
	{Key: "normalize.atlas_file", Kind: KindPath, Description: "atlas file in template space"},

	// Выбор алгоритмов
	{Key: "ica.algorithm", Kind: KindEnum, Enum: []string{"canica", "dictlearning", "fastica", "infomax"}, Default: "canica"},
	{Key: "pet.pvc", Kind: KindEnum, Enum: []string{"none", "mg", "rbv"}, Default: "mg", Description: "partial volume correction method"},

	// Параметры шагов, передаются без интерпретации
	{Key: "anat.template", Kind: KindPath, Description: "standard-space template"},
	{Key: "fmri.smooth_fwhm", Kind: KindFloat, Min: bound(0), Max: bound(20), Default: 8.0},
	{Key: "fmri.lowpass_freq", Kind: KindFloat, Min: bound(0), Max: bound(1), Default: 0.1},
	{Key: "fmri.highpass_freq", Kind: KindFloat, Min: bound(0), Max: bound(1), Default: 0.01},
	{Key: "fmri.regress_poly", Kind: KindInt, Min: bound(0), Max: bound(5), Default: 2},
	{Key: "pet.smooth_fwhm", Kind: KindFloat, Min: bound(0), Max: bound(20), Default: 4.0},
	{Key: "dwi.nthreads", Kind: KindInt, Min: bound(1), Max: bound(64), Default: 1},
	{Key: "tract.n_tracks", Kind: KindInt, Min: bound(1), Default: 100000},
	{Key: "group.smooth_fwhm", Kind: KindFloat, Min: bound(0), Max: bound(20), Default: 8.0},

	// Включение модальностей
	{Key: "modalities.structural", Kind: KindBool},
	{Key: "modalities.pet", Kind: KindBool},
	{Key: "modalities.functional", Kind: KindBool},
	{Key: "modalities.diffusion", Kind: KindBool},
	{Key: "modalities.tractography", Kind: KindBool},
	{Key: "modalities.connectivity", Kind: KindBool},
	{Key: "modalities.ica", Kind: KindBool},

	// Движок
	{Key: "engine.max_concurrency", Kind: KindInt, Min: bound(1)},
	{Key: "engine.best_effort_aggregation", Kind: KindBool, Default: false},
	{Key: "engine.retry.max_attempts", Kind: KindInt, Min: bound(1), Max: bound(10), Default: 1},
	{Key: "engine.retry.backoff", Kind: KindEnum, Enum: []string{"fixed", "exponential"}, Default: "exponential"},
	{Key: "engine.retry.initial_delay_ms", Kind: KindInt, Min: bound(0), Default: 1000},
	{Key: "engine.retry.max_delay_ms", Kind: KindInt, Min: bound(0), Default: 30000},
	{Key: "engine.step_timeout_sec", Kind: KindInt, Min: bound(0), Default: 0},
}

var schemaIndex = func() map[string]Option {
	idx := make(map[string]Option, len(Schema))
	for _, opt := range Schema {
		idx[opt.Key] = opt
	}
	return idx
}()

// Validate проверяет все распознанные ключи.
// Ключи проверяются в лексическом порядке, возвращается первая ошибка.
func Validate(opts Options) error {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		opt, ok := schemaIndex[k]
		if !ok {
			continue
		}
		if err := opt.check(opts[k]); err != nil {
			return err
		}
	}
	return nil
}

// Normalize возвращает копию opts, дополненную объявленными значениями
// по умолчанию для отсутствующих ключей.
func Normalize(opts Options) Options {
	result := make(Options, len(opts)+len(Schema))
	for k, v := range opts {
		result[k] = v
	}
	for _, opt := range Schema {
		if _, ok := result[opt.Key]; !ok && opt.Default != nil {
			result[opt.Key] = opt.Default
		}
	}
	return result
}

// check проверяет одно значение по объявлению.
func (o Option) check(v any) error {
	invalid := func(reason string) error {
		return NewConfigurationError(o.Key, v, reason, ErrInvalidOption)
	}

	switch o.Kind {
	case KindBool:
		if _, ok := v.(bool); !ok {
			return invalid(fmt.Sprintf("expected bool, got %T", v))
		}
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return invalid(fmt.Sprintf("expected string, got %T", v))
		}
		if !slices.Contains(o.Enum, s) {
			return invalid(fmt.Sprintf("must be one of %v", o.Enum))
		}
	case KindString, KindPath:
		s, ok := v.(string)
		if !ok {
			return invalid(fmt.Sprintf("expected string, got %T", v))
		}
		if o.Kind == KindPath && s == "" {
			return invalid("empty path")
		}
	case KindInt:
		n, ok := toInt(v)
		if !ok {
			if f, isFloat := v.(float64); isFloat && f == math.Trunc(f) {
				return invalid("integer out of range")
			}
			return invalid(fmt.Sprintf("expected integer, got %T", v))
		}
		return o.checkRange(float64(n), invalid)
	case KindFloat:
		f, ok := toFloat(v)
		if !ok {
			if n, isFloat := v.(float64); isFloat && !isFinite(n) {
				return invalid("must be a finite number")
			}
			return invalid(fmt.Sprintf("expected number, got %T", v))
		}
		return o.checkRange(f, invalid)
	}
	return nil
}

func (o Option) checkRange(f float64, invalid func(string) error) error {
	if o.Min != nil && f < *o.Min {
		return invalid(fmt.Sprintf("must be >= %v", *o.Min))
	}
	if o.Max != nil && f > *o.Max {
		return invalid(fmt.Sprintf("must be <= %v", *o.Max))
	}
	return nil
}

// Bool возвращает булево значение ключа.
// present=false, если ключ не задан.
func (o Options) Bool(key string) (value, present bool, err error) {
	v, ok := o[key]
	if !ok {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, true, NewConfigurationError(key, v, fmt.Sprintf("expected bool, got %T", v), ErrInvalidOption)
	}
	return b, true, nil
}

// String возвращает строковое значение ключа.
func (o Options) String(key string) (value string, present bool, err error) {
	v, ok := o[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, NewConfigurationError(key, v, fmt.Sprintf("expected string, got %T", v), ErrInvalidOption)
	}
	return s, true, nil
}

// Int возвращает целое значение ключа.
func (o Options) Int(key string) (value int, present bool, err error) {
	v, ok := o[key]
	if !ok {
		return 0, false, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, true, NewConfigurationError(key, v, fmt.Sprintf("expected integer, got %T", v), ErrInvalidOption)
	}
	return n, true, nil
}

// Float возвращает числовое значение ключа.
func (o Options) Float(key string) (value float64, present bool, err error) {
	v, ok := o[key]
	if !ok {
		return 0, false, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, true, NewConfigurationError(key, v, fmt.Sprintf("expected number, got %T", v), ErrInvalidOption)
	}
	return f, true, nil
}

// Flag возвращает значение булева ключа, false если ключ не задан или невалиден.
func (o Options) Flag(key string) bool {
	b, _, err := o.Bool(key)
	return err == nil && b
}

// toInt принимает int, int64 и целые float64 (JSON декодирует числа как float64).
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		// float64(math.MaxInt) округляется вверх до 2^63, поэтому граница строгая
		if n != math.Trunc(n) || n < float64(math.MinInt) || n >= float64(math.MaxInt) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// toFloat отвергает NaN и бесконечности: они не сериализуются в ключ кэша.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, isFinite(n)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
