package steps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// TemplateData — данные для рендеринга аргументов команды.
//
// Доступны в шаблонах как:
//   - {{ .Inputs.image }} — путь к входу порта image
//   - {{ .InputLists.images }} — все пути порта (для агрегации)
//   - {{ .Outputs.warped }} — путь, по которому шаг должен записать выход
//   - {{ .Params.fwhm }} — параметр шага
//   - {{ .WorkDir }}, {{ .Subject }}, {{ .NodeID }}
type TemplateData struct {
	NodeID     string
	Subject    string
	WorkDir    string
	Inputs     map[string]string
	InputLists map[string][]string
	Outputs    map[string]string
	Params     map[string]any
}

// NewTemplateData собирает TemplateData из запроса и путей выходов.
func NewTemplateData(req *Request, outputs map[string]string) *TemplateData {
	data := &TemplateData{
		NodeID:     req.NodeID,
		Subject:    req.Subject,
		WorkDir:    req.WorkDir,
		Inputs:     make(map[string]string, len(req.Inputs)),
		InputLists: make(map[string][]string, len(req.Inputs)),
		Outputs:    outputs,
		Params:     req.Params,
	}
	if data.Params == nil {
		data.Params = make(map[string]any)
	}

	for port, refs := range req.Inputs {
		paths := make([]string, len(refs))
		for i, ref := range refs {
			paths[i] = ref.Location
		}
		data.InputLists[port] = paths
		if len(paths) > 0 {
			data.Inputs[port] = paths[0]
		}
	}

	return data
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// join — объединяет слайс строк
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	// base — имя файла без директории
	"base": func(path string) string {
		if i := strings.LastIndex(path, "/"); i >= 0 {
			return path[i+1:]
		}
		return path
	},

	"lower":   strings.ToLower,
	"upper":   strings.ToUpper,
	"trim":    strings.TrimSpace,
	"replace": strings.ReplaceAll,
}

// Render рендерит строковый шаблон.
//
//	{{ .Inputs.image }}
//	{{ join "," .InputLists.images }}
//	{{ default 8 (index .Params "fwhm") }}
//
// Обращение к отсутствующему ключу через точку — ошибка рендеринга.
func Render(tmpl string, data *TemplateData) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderArgs рендерит аргументы команды по порядку.
func RenderArgs(args []string, data *TemplateData) ([]string, error) {
	result := make([]string, len(args))
	for i, arg := range args {
		rendered, err := Render(arg, data)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		result[i] = rendered
	}
	return result, nil
}
