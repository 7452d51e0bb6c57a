// Package loadtest は負荷テストサービスのRESTクライアントと
// 長時間実行オペレーション（LRO）のポーリング機構を提供する。
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 30 * time.Second

// FileInfo はアップロード済みテストファイルの状態を表す。
type FileInfo struct {
	FileID                   string `json:"fileId"`
	FileName                 string `json:"fileName,omitempty"`
	ValidationStatus         string `json:"validationStatus"`
	ValidationFailureDetails string `json:"validationFailureDetails,omitempty"`
	URL                      string `json:"url,omitempty"`
	ExpireDateTime           string `json:"expireDateTime,omitempty"`
}

// TestRun はテスト実行の状態を表す。
type TestRun struct {
	TestRunID     string `json:"testRunId"`
	TestID        string `json:"testId,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	Status        string `json:"status"`
	StartDateTime string `json:"startDateTime,omitempty"`
	EndDateTime   string `json:"endDateTime,omitempty"`
}

// TestRunRequest はテスト実行の作成・更新リクエスト。
type TestRunRequest struct {
	TestID      string `json:"testId"`
	DisplayName string `json:"displayName,omitempty"`
}

// ClientOptions はClient生成時のオプション。
type ClientOptions struct {
	// HTTPClient を指定しない場合はotelhttp計装付きのクライアントを使う。
	HTTPClient *http.Client
}

// Client は負荷テストサービスのRESTクライアント。
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient は指定エンドポイントに対するクライアントを生成する。
func NewClient(endpoint string, opts *ClientOptions) *Client {
	c := &Client{endpoint: endpoint}
	if opts != nil && opts.HTTPClient != nil {
		c.httpClient = opts.HTTPClient
		return c
	}
	c.httpClient = &http.Client{
		Timeout:   defaultTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return c
}

// fileURL はファイルリソースのURLを組み立てる。
func (c *Client) fileURL(fileID string) string {
	return fmt.Sprintf("%s/v1/files/%s", c.endpoint, url.PathEscape(fileID))
}

// testRunURL はテスト実行リソースのURLを組み立てる。
func (c *Client) testRunURL(runID string) string {
	return fmt.Sprintf("%s/v1/test-runs/%s", c.endpoint, url.PathEscape(runID))
}

// UploadFile はテストファイルをアップロードする。
// 返却されるレスポンスはNewPollerへそのまま渡せる。
func (c *Client) UploadFile(ctx context.Context, fileID string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.fileURL(fileID), body)
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading file: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newResponseError(resp)
	}
	return resp, nil
}

// GetFile はファイルの現在の状態を取得する。
func (c *Client) GetFile(ctx context.Context, fileID string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(fileID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newResponseError(resp)
	}

	var info FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding file response: %w", err)
	}
	return &info, nil
}

// CreateOrUpdateTestRun はテスト実行を作成または更新する。
// 返却されるレスポンスはNewPollerへそのまま渡せる。
func (c *Client) CreateOrUpdateTestRun(ctx context.Context, runID string, run *TestRunRequest) (*http.Response, error) {
	payload, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encoding test run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.testRunURL(runID), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating test run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/merge-patch+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("creating test run: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newResponseError(resp)
	}
	return resp, nil
}

// GetTestRun はテスト実行の現在の状態を取得する。
func (c *Client) GetTestRun(ctx context.Context, runID string) (*TestRun, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.testRunURL(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getting test run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newResponseError(resp)
	}

	var run TestRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decoding test run response: %w", err)
	}
	return &run, nil
}

// ResponseError はサービスがエラーステータスを返した場合のエラー。
type ResponseError struct {
	StatusCode int
	Body       string
}

// Error はエラーメッセージを返す。
func (e *ResponseError) Error() string {
	return fmt.Sprintf("loadtest: server returned status %d: %s", e.StatusCode, e.Body)
}

// newResponseError はレスポンスボディを読み取ってResponseErrorを生成する。
func newResponseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ResponseError{StatusCode: resp.StatusCode, Body: string(body)}
}
