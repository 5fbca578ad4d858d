package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/neuroflow/internal/domain"
)

// Плейсхолдеры шаблонов путей к сырым файлам.
const (
	placeholderSubject = "{subject_id}"
	placeholderSession = "{session_id}"
)

// Study — описание исследования: где лежат данные, как их искать и
// с какими опциями строить граф.
//
// Пример (YAML):
//
//	name: memory-clinic
//	data_dir: /data/raw
//	work_dir: /data/work
//	output_dir: /data/out
//	sessions: [session_0]
//	inputs:
//	  anat.raw: "{subject_id}/{session_id}/anat_hc.nii.gz"
//	  pet.raw:  "{subject_id}/{session_id}/pet_fdg.nii.gz"
//	options:
//	  coreg.anat2pet: true
//	  pet.group_template: true
//	schedule: "0 3 * * *"
type Study struct {
	Name      string            `json:"name" yaml:"name"`
	DataDir   string            `json:"data_dir" yaml:"data_dir"`
	WorkDir   string            `json:"work_dir" yaml:"work_dir"`
	OutputDir string            `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	ToolsDir  string            `json:"tools_dir,omitempty" yaml:"tools_dir,omitempty"`
	Subjects  []string          `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	Sessions  []string          `json:"sessions,omitempty" yaml:"sessions,omitempty"`
	Inputs    map[string]string `json:"inputs" yaml:"inputs"`
	Options   Options           `json:"options,omitempty" yaml:"options,omitempty"`
	Schedule  string            `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// External — внешние файлы когорты по типу артефакта (атлас, шаблоны).
	External map[string]string `json:"external,omitempty" yaml:"external,omitempty"`
}

// Load читает исследование из YAML или JSON файла (по расширению).
// Относительные директории разрешаются от директории файла.
func Load(path string) (*Study, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read study: %w", err)
	}

	var s Study
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &s)
	default:
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidStudy, path, err)
	}

	base := filepath.Dir(path)
	s.DataDir = resolve(base, s.DataDir)
	s.WorkDir = resolve(base, s.WorkDir)
	s.OutputDir = resolve(base, s.OutputDir)
	s.ToolsDir = resolve(base, s.ToolsDir)
	for k, v := range s.External {
		s.External[k] = resolve(base, v)
	}
	if s.Options == nil {
		s.Options = make(Options)
	}
	for _, opt := range Schema {
		if opt.Kind != KindPath {
			continue
		}
		if p, ok := s.Options[opt.Key].(string); ok && p != "" {
			s.Options[opt.Key] = resolve(base, p)
		}
	}

	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate проверяет обязательные поля и опции.
func (s *Study) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidStudy)
	}
	if s.WorkDir == "" {
		return fmt.Errorf("%w: work_dir is required", ErrInvalidStudy)
	}
	if len(s.Inputs) == 0 {
		return fmt.Errorf("%w: inputs must declare at least one file template", ErrInvalidStudy)
	}
	for t, tmpl := range s.Inputs {
		if !strings.Contains(tmpl, placeholderSubject) {
			return fmt.Errorf("%w: input %s: template %q has no %s", ErrInvalidStudy, t, tmpl, placeholderSubject)
		}
	}
	return Validate(s.Options)
}

// SubjectIDs возвращает список субъектов: явно заданный или найденный
// как поддиректории data_dir (в лексическом порядке).
func (s *Study) SubjectIDs() ([]string, error) {
	if len(s.Subjects) > 0 {
		return s.Subjects, nil
	}

	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ResolveSubjects подставляет субъектов и сессии в шаблоны путей.
//
// Отсутствующие файлы пропускаются: решение о том, обязателен ли вход,
// принимает построитель графа. При нескольких сессиях ID субъекта
// имеет вид "<subject>_<session>".
func (s *Study) ResolveSubjects() ([]domain.Subject, error) {
	ids, err := s.SubjectIDs()
	if err != nil {
		return nil, err
	}

	sessions := s.Sessions
	if len(sessions) == 0 {
		sessions = []string{""}
	}

	types := make([]string, 0, len(s.Inputs))
	for t := range s.Inputs {
		types = append(types, t)
	}
	sort.Strings(types)

	subjects := make([]domain.Subject, 0, len(ids)*len(sessions))
	for _, id := range ids {
		for _, session := range sessions {
			subj := domain.Subject{
				ID:      id,
				Session: session,
				Inputs:  make(map[domain.ArtifactType]string),
			}
			if len(sessions) > 1 {
				subj.ID = id + "_" + session
			}

			for _, t := range types {
				rel := strings.ReplaceAll(s.Inputs[t], placeholderSubject, id)
				rel = strings.ReplaceAll(rel, placeholderSession, session)
				path := filepath.Join(s.DataDir, rel)
				if _, err := os.Stat(path); err == nil {
					subj.Inputs[domain.ArtifactType(t)] = path
				}
			}
			subjects = append(subjects, subj)
		}
	}
	return subjects, nil
}

// ExternalFiles возвращает внешние файлы когорты по типу артефакта.
func (s *Study) ExternalFiles() map[domain.ArtifactType]string {
	result := make(map[domain.ArtifactType]string, len(s.External))
	for t, p := range s.External {
		result[domain.ArtifactType(t)] = p
	}
	return result
}

// RetryPolicy собирает политику повторов из опций engine.retry.*.
func (o Options) RetryPolicy() *domain.RetryPolicy {
	policy := &domain.RetryPolicy{MaxAttempts: 1}
	if n, ok, err := o.Int("engine.retry.max_attempts"); ok && err == nil {
		policy.MaxAttempts = n
	}
	if b, ok, err := o.String("engine.retry.backoff"); ok && err == nil {
		policy.Backoff = b
	}
	if n, ok, err := o.Int("engine.retry.initial_delay_ms"); ok && err == nil {
		policy.InitialDelayMs = n
	}
	if n, ok, err := o.Int("engine.retry.max_delay_ms"); ok && err == nil {
		policy.MaxDelayMs = n
	}
	return policy
}
