package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Alignflow/internal/api"
)

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

// Client — HTTP-клиент API состояния runs (alignflow align --statusAddr,
// alignflow-worker).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API. Схема по умолчанию — http.
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*api.RunResponse, error) {
	var run api.RunResponse
	err := c.data(http.MethodGet, "/api/v1/runs/"+id, &run)
	return &run, err
}

// LatestRun возвращает последний run.
func (c *Client) LatestRun() (*api.RunResponse, error) {
	var run api.RunResponse
	err := c.data(http.MethodGet, "/api/v1/runs/latest", &run)
	return &run, err
}

// ListActiveRuns возвращает выполняющиеся runs.
func (c *Client) ListActiveRuns() ([]api.RunResponse, error) {
	var runs []api.RunResponse
	err := c.list("/api/v1/runs", &runs)
	return runs, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*api.RunResponse, error) {
	var run api.RunResponse
	err := c.data(http.MethodPost, "/api/v1/runs/"+id+"/cancel", &run)
	return &run, err
}

// ListTasks возвращает tasks run'а.
func (c *Client) ListTasks(runID string) ([]api.TaskResponse, error) {
	var tasks []api.TaskResponse
	err := c.list("/api/v1/runs/"+runID+"/tasks", &tasks)
	return tasks, err
}

func (c *Client) list(path string, result any) error {
	resp, err := c.do(http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(lr.Data, result)
}

func (c *Client) data(method, path string, result any) error {
	resp, err := c.do(method, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.httpClient.Do(req)
}

// APIError — ответ API с ошибкой.
type APIError struct {
	Status  int
	Code    api.ErrorCode
	Message string
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(resp.Body)
	var er api.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
