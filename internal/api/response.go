package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/neuroflow/internal/artifact"
	"github.com/shaiso/neuroflow/internal/mq"
	"github.com/shaiso/neuroflow/internal/repo"
	"github.com/shaiso/neuroflow/internal/telemetry"
)

// ErrorCode — машинно-читаемый код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — код и сообщение ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — тело ответа с одним объектом.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — тело ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// errorClass — HTTP-представление ошибки хранилища или очереди.
type errorClass struct {
	target  error
	status  int
	code    ErrorCode
	message string // пусто — текст ошибки
}

// errorClasses проверяются по порядку через errors.Is.
var errorClasses = []errorClass{
	{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound, "not found"},
	{artifact.ErrNotFound, http.StatusNotFound, ErrCodeNotFound, "not found"},
	{repo.ErrInvalidReport, http.StatusUnprocessableEntity, ErrCodeInvalidState, ""},
	{mq.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeUnavailable, "run queue is unavailable"},
	{mq.ErrConnectionClosed, http.StatusServiceUnavailable, ErrCodeUnavailable, "run queue is unavailable"},
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, DataResponse{Data: data})
}

// writeList отправляет список. total — размер списка в ответе.
func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Data: items, Total: len(items)})
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// fail отвечает на ошибку err. Известные ошибки отображаются по
// errorClasses, остальные логируются и становятся 500 без деталей.
// what уточняет сообщение 404 ("run", "artifact").
func fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	for _, c := range errorClasses {
		if !errors.Is(err, c.target) {
			continue
		}
		msg := c.message
		switch {
		case msg == "":
			msg = err.Error()
		case c.code == ErrCodeNotFound && what != "":
			msg = what + " not found"
		}
		writeError(w, c.status, c.code, msg)
		return
	}

	telemetry.FromContext(r.Context()).Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}
