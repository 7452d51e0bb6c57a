package loadtest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultPollInterval = 5 * time.Second

// ErrNotLongRunning は既知のLRO形状に一致しないレスポンスを
// NewPollerへ渡した場合のエラー。
var ErrNotLongRunning = errors.New("loadtest: response does not correspond to a long-running operation")

// OperationKind はLROの種別を表す。
type OperationKind int

const (
	// OperationUnknown は既知のLRO形状に一致しないことを表す。
	OperationUnknown OperationKind = iota
	// OperationFileUpload はファイルアップロード・検証フロー。
	OperationFileUpload
	// OperationTestRun はテスト実行の作成・更新フロー。
	OperationTestRun
)

// String は種別名を返す。
func (k OperationKind) String() string {
	switch k {
	case OperationFileUpload:
		return "file_upload"
	case OperationTestRun:
		return "test_run"
	default:
		return "unknown"
	}
}

// Classify は完了済みの初期レスポンスからLROの種別を判定する。
// 判定は元リクエストのURLパスのみに基づき、最初に一致した規則が勝つ。
// レスポンスボディやヘッダは参照しない。
func Classify(resp *http.Response) OperationKind {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return OperationUnknown
	}
	path := resp.Request.URL.Path
	if strings.Contains(path, "/files/") {
		return OperationFileUpload
	}
	if strings.Contains(path, "/test-runs/") {
		return OperationTestRun
	}
	return OperationUnknown
}

// Poller はLROの完了待ち機構の共通インターフェース。
// 完了結果の型はリソースファミリーごとに異なるため、
// 型付きの結果は具象ポーラーのPollUntilDoneから取得する。
type Poller interface {
	Kind() OperationKind
}

// NewPoller は初期レスポンスの形状に応じたポーラーを構築する。
// 既知のLRO形状に一致しない場合はErrNotLongRunningを返し、
// 何もしないポーラーを返すことはない。
func NewPoller(c *Client, resp *http.Response) (Poller, error) {
	switch Classify(resp) {
	case OperationFileUpload:
		return newFilePoller(c, resp), nil
	case OperationTestRun:
		return newTestRunPoller(c, resp), nil
	default:
		return nil, ErrNotLongRunning
	}
}

// resourceID はパス中の指定セグメント直後のリソースIDを取り出す。
func resourceID(path, segment string) string {
	idx := strings.Index(path, segment)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimPrefix(path[idx+len(segment):], "/")
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

// FilePoller はファイル検証の完了を待つポーラー。
type FilePoller struct {
	client *Client
	fileID string
}

func newFilePoller(c *Client, resp *http.Response) *FilePoller {
	return &FilePoller{
		client: c,
		fileID: resourceID(resp.Request.URL.Path, "/files"),
	}
}

// Kind はOperationFileUploadを返す。
func (p *FilePoller) Kind() OperationKind { return OperationFileUpload }

// isFileTerminal は検証ステータスが終端値かどうかを返す。
func isFileTerminal(status string) bool {
	switch status {
	case "VALIDATION_SUCCESS", "VALIDATION_FAILURE", "VALIDATION_NOT_REQUIRED":
		return true
	}
	return false
}

// PollUntilDone はファイル検証が終端状態に達するまでポーリングする。
// intervalが0以下の場合はデフォルト間隔を使う。
// コンテキストのキャンセルでctx.Err()を返して中断する。
func (p *FilePoller) PollUntilDone(ctx context.Context, interval time.Duration) (*FileInfo, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	for {
		info, err := p.client.GetFile(ctx, p.fileID)
		if err != nil {
			return nil, err
		}
		if isFileTerminal(info.ValidationStatus) {
			return info, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// TestRunPoller はテスト実行の完了を待つポーラー。
type TestRunPoller struct {
	client *Client
	runID  string
}

func newTestRunPoller(c *Client, resp *http.Response) *TestRunPoller {
	return &TestRunPoller{
		client: c,
		runID:  resourceID(resp.Request.URL.Path, "/test-runs"),
	}
}

// Kind はOperationTestRunを返す。
func (p *TestRunPoller) Kind() OperationKind { return OperationTestRun }

// isRunTerminal は実行ステータスが終端値かどうかを返す。
func isRunTerminal(status string) bool {
	switch status {
	case "DONE", "FAILED", "CANCELLED":
		return true
	}
	return false
}

// PollUntilDone はテスト実行が終端状態に達するまでポーリングする。
// intervalが0以下の場合はデフォルト間隔を使う。
// コンテキストのキャンセルでctx.Err()を返して中断する。
func (p *TestRunPoller) PollUntilDone(ctx context.Context, interval time.Duration) (*TestRun, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	for {
		run, err := p.client.GetTestRun(ctx, p.runID)
		if err != nil {
			return nil, err
		}
		if isRunTerminal(run.Status) {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
