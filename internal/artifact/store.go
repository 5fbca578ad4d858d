package artifact

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/neuroflow/internal/domain"
)

// Ошибки хранилища.
var (
	// ErrNotFound — артефакт с таким fingerprint отсутствует.
	ErrNotFound = errors.New("artifact not found")

	// ErrEmptyFingerprint — попытка записать артефакт без fingerprint.
	ErrEmptyFingerprint = errors.New("artifact has empty fingerprint")
)

// Filter — параметры выборки артефактов.
type Filter struct {
	Subject    string
	Modality   domain.Modality
	Type       domain.ArtifactType
	ProducedBy string
	Limit      int
}

// Match проверяет, подходит ли артефакт под фильтр.
func (f Filter) Match(a *domain.Artifact) bool {
	if f.Subject != "" && a.Subject != f.Subject {
		return false
	}
	if f.Modality != "" && a.Modality != f.Modality {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.ProducedBy != "" && a.ProducedBy != f.ProducedBy {
		return false
	}
	return true
}

// Store — хранилище артефактов.
type Store interface {
	// Get возвращает артефакт по fingerprint или ErrNotFound.
	Get(ctx context.Context, fingerprint string) (*domain.Artifact, error)

	// Put записывает артефакт. Если fingerprint уже есть, возвращает существующий.
	Put(ctx context.Context, a *domain.Artifact) (*domain.Artifact, error)

	// List возвращает артефакты по фильтру.
	List(ctx context.Context, filter Filter) ([]domain.Artifact, error)
}

// MemStore — Store в памяти процесса.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]*domain.Artifact
}

// NewMemStore создаёт пустой MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		items: make(map[string]*domain.Artifact),
	}
}

// Get возвращает копию артефакта по fingerprint.
func (s *MemStore) Get(_ context.Context, fingerprint string) (*domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.items[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// Put записывает артефакт, если fingerprint ещё не встречался.
func (s *MemStore) Put(_ context.Context, a *domain.Artifact) (*domain.Artifact, error) {
	if a.Fingerprint == "" {
		return nil, ErrEmptyFingerprint
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[a.Fingerprint]; ok {
		cp := *existing
		return &cp, nil
	}

	stored := *a
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.items[stored.Fingerprint] = &stored

	cp := stored
	return &cp, nil
}

// List возвращает артефакты по фильтру, отсортированные по времени создания.
func (s *MemStore) List(_ context.Context, filter Filter) ([]domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Artifact, 0)
	for _, a := range s.items {
		if filter.Match(a) {
			result = append(result, *a)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Fingerprint < result[j].Fingerprint
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Len возвращает количество артефактов.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
