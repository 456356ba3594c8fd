package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

// DefaultTimeout は上流APIへのリクエストの既定タイムアウト。
const DefaultTimeout = 5 * time.Second

// HeaderRequestID はリクエストIDを伝播するためのHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// Client は上流API呼び出し用のHTTPクライアント。
// タイムアウトを持ち、リトライは行わない。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先APIのベースURL。末尾のスラッシュは除去済み。
	baseURL string
}

// New は新しい上流API用HTTPクライアントを生成する。
// baseURLには上流APIのベースURL（例: "http://api:8000/v1"）を指定する。
// timeoutが0以下の場合はDefaultTimeoutを使用する。
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			// 上流のリダイレクトはそのままブラウザへ中継する
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL は接続先APIのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Timeout はリクエストのタイムアウトを返す。
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// Do はベースURLにpathAndQueryを連結したURLへリクエストを送信する。
// pathAndQueryはエンコード済みの値をそのまま使用し、再エンコードしない。
// レスポンスボディのクローズは呼び出し側の責務。
func (c *Client) Do(ctx context.Context, method, pathAndQuery string, header http.Header, body io.Reader) (*http.Response, error) {
	url := c.baseURL + pathAndQuery
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// コンテキストからリクエストIDを伝播する
	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok && requestID != "" {
		req.Header.Set(HeaderRequestID, requestID)
	}
	injectTraceContext(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	return resp, nil
}

// traceContext はW3C Trace Contextのヘッダー形式で伝播するプロパゲーター。
var traceContext = propagation.TraceContext{}

// injectTraceContext はコンテキストのスパン情報をtraceparentとtracestateヘッダーとして付与する。
// 有効なスパンが無い場合は何も付与しない。
func injectTraceContext(ctx context.Context, req *http.Request) {
	traceContext.Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// WithRequestID はコンテキストにリクエストIDを設定する。
// 上流API呼び出し時にX-Request-IDヘッダーとして伝播される。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// RequestIDFromContext はコンテキストからリクエストIDを取得する。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
