// Package config — опции построения графа и описание исследования.
//
// Options — плоская map ключ → значение. Ключи, объявленные в Schema,
// проверяются по типу и диапазону (ConfigurationError), остальные
// игнорируются. Числовые параметры шагов передаются шагам без
// интерпретации.
//
// Значения по умолчанию подставляет только Normalize, который вызывается
// явно при загрузке исследования. Построитель графа сам ничего не
// подставляет: если селектор слота не нашёл ключ, это ConfigurationError.
//
// Study читается из YAML (gopkg.in/yaml.v3) или JSON:
//
//	study, err := config.Load("study.yaml")
//	subjects, err := study.ResolveSubjects()
//	opts := config.Normalize(study.Options)
package config
