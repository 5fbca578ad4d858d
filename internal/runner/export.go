package runner

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/engine"
)

// Exported — скопированный итоговый артефакт.
type Exported struct {
	Output domain.OutputRef `json:"output"`
	Path   string           `json:"path"`
}

// Export копирует итоговые артефакты отчёта в
// <outputDir>/<modality>/<subject|cohort>/<type><ext>.
//
// Выходы без Location (узел не завершился) пропускаются.
func Export(report *domain.RunReport, outputDir string) ([]Exported, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("export: output dir is not set")
	}

	result := make([]Exported, 0, len(report.Outputs))
	for _, out := range report.Outputs {
		if out.Location == "" {
			continue
		}

		subject := out.Subject
		if subject == "" {
			subject = engine.CohortSubject
		}
		dst := filepath.Join(outputDir, string(out.Modality), subject, exportName(out.Type, out.Location))

		if err := copyPath(out.Location, dst); err != nil {
			return result, fmt.Errorf("export %s: %w", out.NodeID, err)
		}
		result = append(result, Exported{Output: out, Path: dst})
	}
	return result, nil
}

// exportName — имя файла по типу артефакта с расширением исходного файла.
func exportName(t domain.ArtifactType, location string) string {
	base := filepath.Base(location)
	ext := filepath.Ext(base)
	if strings.HasSuffix(base, ".nii.gz") {
		ext = ".nii.gz"
	}
	return string(t) + ext
}

// copyPath копирует файл или директорию.
func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, fi.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
