package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/shaiso/neuroflow/internal/domain"
)

// KeyInput — всё, от чего зависит результат узла.
type KeyInput struct {
	// StepType — тип шага.
	StepType string

	// Slot и Variant — позиция в шаблоне и выбранная альтернатива.
	Slot    string
	Variant string

	// Inputs — fingerprint входов по имени порта.
	Inputs map[string]string

	// Params — параметры шага.
	Params map[string]any
}

// CacheKey вычисляет ключ кэша узла.
//
// Порты и параметры сортируются, поэтому ключ не зависит от порядка
// обхода map.
func CacheKey(in KeyInput) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "step=%s\nslot=%s\nvariant=%s\n", in.StepType, in.Slot, in.Variant)

	ports := make([]string, 0, len(in.Inputs))
	for port := range in.Inputs {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	for _, port := range ports {
		fmt.Fprintf(h, "in:%s=%s\n", port, in.Inputs[port])
	}

	// encoding/json сортирует ключи map, этого достаточно для канонической формы
	params, err := json.Marshal(in.Params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	fmt.Fprintf(h, "params=%s\n", params)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// OutputFingerprint — fingerprint выхода узла для заданного порта.
func OutputFingerprint(cacheKey, port string) string {
	sum := sha256.Sum256([]byte(cacheKey + "/" + port))
	return hex.EncodeToString(sum[:])
}

// FileFingerprint вычисляет sha256 содержимого файла.
// Для директории хэшируются относительные пути и содержимое всех файлов.
func FileFingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	h := sha256.New()
	if !info.IsDir() {
		if err := hashFile(h, path); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	// WalkDir обходит файлы в лексическом порядке
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\n", filepath.ToSlash(rel))
		return hashFile(h, p)
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// External создаёт артефакт для внешнего файла.
// Пустой subject означает артефакт когорты.
func External(t domain.ArtifactType, modality domain.Modality, subject, path string) (*domain.Artifact, error) {
	fp, err := FileFingerprint(path)
	if err != nil {
		return nil, err
	}

	scope := domain.ScopeSubject
	if subject == "" {
		scope = domain.ScopeCohort
	}

	return &domain.Artifact{
		Type:        t,
		Modality:    modality,
		Subject:     subject,
		Scope:       scope,
		Fingerprint: fp,
		Location:    path,
	}, nil
}
