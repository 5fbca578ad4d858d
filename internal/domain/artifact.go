package domain

import (
	"time"

	"github.com/google/uuid"
)

// Artifact — неизменяемый результат обработки (или внешний входной файл).
//
// Артефакт никогда не изменяется после создания. Повторный запуск, который
// дал бы тот же Fingerprint, переиспользует существующий артефакт.
type Artifact struct {
	// ID — уникальный идентификатор артефакта.
	ID uuid.UUID `json:"id"`

	// Type — семантический тип артефакта.
	Type ArtifactType `json:"type"`

	// Modality — модальность пайплайна, породившего артефакт.
	Modality Modality `json:"modality,omitempty"`

	// Subject — идентификатор субъекта. Пустой для артефактов когорты.
	Subject string `json:"subject,omitempty"`

	// Scope — subject или cohort.
	Scope Scope `json:"scope"`

	// ProducedBy — ID узла, создавшего артефакт. Пустой для внешних файлов.
	ProducedBy string `json:"produced_by,omitempty"`

	// Port — имя выходного порта узла.
	Port string `json:"port,omitempty"`

	// Fingerprint — hex sha256 содержимого или ключа кэша, используется как ключ хранилища.
	Fingerprint string `json:"fingerprint"`

	// Location — путь к данным.
	Location string `json:"location"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// IsExternal возвращает true для артефактов, поставленных извне (сырые данные, атлас).
func (a *Artifact) IsExternal() bool {
	return a.ProducedBy == ""
}

// Subject — субъект когорты с его сырыми данными.
type Subject struct {
	// ID — идентификатор субъекта (имя директории в data_dir).
	ID string `json:"id"`

	// Session — идентификатор сессии, может быть пустым.
	Session string `json:"session,omitempty"`

	// Inputs — пути к сырым файлам по типу артефакта.
	Inputs map[ArtifactType]string `json:"inputs"`
}

// Has проверяет наличие сырого входа заданного типа.
func (s *Subject) Has(t ArtifactType) bool {
	_, ok := s.Inputs[t]
	return ok
}
