package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
)

// Output — вывод команды: данные в stdout (таблица или JSON),
// сообщения для человека в stderr.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

// NewOutput создаёт Output поверх stdout/stderr.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с заданными потоками.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// IsJSON сообщает, включён ли режим JSON.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// Render выводит data как JSON или t как таблицу.
func (o *Output) Render(data any, t *Table) {
	if o.jsonMode {
		o.JSON(data)
		return
	}
	o.Table(t)
}

// Table печатает таблицу. Пустая таблица с WhenEmpty печатает только
// сообщение в stderr.
func (o *Output) Table(t *Table) {
	if len(t.rows) == 0 && t.empty != "" {
		o.Notice("%s", t.empty)
		return
	}

	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.headers, "\t"))

	dashes := make([]string, len(t.headers))
	for i, h := range t.headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range t.rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// JSON печатает v с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Println печатает строку данных в stdout.
func (o *Output) Println(a ...any) {
	fmt.Fprintln(o.w, a...)
}

// Notice печатает сообщение для человека в stderr.
func (o *Output) Notice(format string, args ...any) {
	fmt.Fprintf(o.errW, format+"\n", args...)
}

// Warn печатает предупреждение в stderr.
func (o *Output) Warn(format string, args ...any) {
	fmt.Fprintf(o.errW, "Warning: "+format+"\n", args...)
}

// Table — таблица для текстового режима.
type Table struct {
	headers []string
	rows    [][]string
	empty   string
}

// NewTable создаёт таблицу с заголовками.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Row добавляет строку. Время печатается в локальной зоне, nil-указатели
// и нулевое время — пустой ячейкой.
func (t *Table) Row(cells ...any) *Table {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = cell(c)
	}
	t.rows = append(t.rows, row)
	return t
}

// WhenEmpty задаёт сообщение для таблицы без строк.
func (t *Table) WhenEmpty(msg string) *Table {
	t.empty = msg
	return t
}

func cell(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case time.Time:
		return formatTime(v)
	case *time.Time:
		if v == nil {
			return ""
		}
		return formatTime(*v)
	case *uuid.UUID:
		if v == nil {
			return ""
		}
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
