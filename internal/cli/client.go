package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/neuroflow/internal/domain"
)

// RunRequest — постановка run в очередь.
type RunRequest struct {
	Study   string         `json:"study"`
	Options map[string]any `json:"options,omitempty"`
	RunID   *uuid.UUID     `json:"run_id,omitempty"`
}

// RunRequested — ответ на постановку run в очередь.
type RunRequested struct {
	RunID uuid.UUID `json:"run_id"`
	Study string    `json:"study"`
}

// ListRunsOpts — фильтр runs.
type ListRunsOpts struct {
	Study  string
	Status string
	Limit  int
}

func (o ListRunsOpts) values() url.Values {
	return query("study", o.Study, "status", o.Status, "limit", limit(o.Limit))
}

// ListArtifactsOpts — фильтр артефактов.
type ListArtifactsOpts struct {
	Subject    string
	Modality   string
	Type       string
	ProducedBy string
	Limit      int
}

func (o ListArtifactsOpts) values() url.Values {
	return query(
		"subject", o.Subject,
		"modality", o.Modality,
		"type", o.Type,
		"produced_by", o.ProducedBy,
		"limit", limit(o.Limit),
	)
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound сообщает, что сервер ответил 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client — HTTP-клиент neuroflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API по адресу baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListRuns возвращает сводки runs.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]domain.RunSummary, error) {
	return fetch[[]domain.RunSummary](ctx, c, http.MethodGet, "/api/v1/runs", opts.values(), nil)
}

// GetRun возвращает полный отчёт run.
func (c *Client) GetRun(ctx context.Context, id string) (*domain.RunReport, error) {
	report, err := fetch[domain.RunReport](ctx, c, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ListFailures возвращает ошибки run, с subject — только этого субъекта.
func (c *Client) ListFailures(ctx context.Context, runID, subject string) ([]domain.Failure, error) {
	path := "/api/v1/runs/" + url.PathEscape(runID) + "/failures"
	return fetch[[]domain.Failure](ctx, c, http.MethodGet, path, query("subject", subject), nil)
}

// RequestRun ставит исследование в очередь сервера.
func (c *Client) RequestRun(ctx context.Context, req RunRequest) (*RunRequested, error) {
	result, err := fetch[RunRequested](ctx, c, http.MethodPost, "/api/v1/runs", nil, req)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListArtifacts возвращает артефакты хранилища сервера.
func (c *Client) ListArtifacts(ctx context.Context, opts ListArtifactsOpts) ([]domain.Artifact, error) {
	return fetch[[]domain.Artifact](ctx, c, http.MethodGet, "/api/v1/artifacts", opts.values(), nil)
}

// GetArtifact возвращает артефакт по fingerprint.
func (c *Client) GetArtifact(ctx context.Context, fingerprint string) (*domain.Artifact, error) {
	a, err := fetch[domain.Artifact](ctx, c, http.MethodGet, "/api/v1/artifacts/"+url.PathEscape(fingerprint), nil, nil)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListSchedules возвращает расписания сервера.
func (c *Client) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	return fetch[[]domain.Schedule](ctx, c, http.MethodGet, "/api/v1/schedules", nil, nil)
}

// fetch выполняет запрос и декодирует поле data ответа в T.
func fetch[T any](ctx context.Context, c *Client, method, path string, params url.Values, body any) (T, error) {
	var result T

	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return result, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return result, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return result, decodeError(resp)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return result, fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		return result, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return result, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	return apiErr
}

// query собирает url.Values из пар ключ-значение, пропуская пустые.
func query(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			v.Set(pairs[i], pairs[i+1])
		}
	}
	return v
}

func limit(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
