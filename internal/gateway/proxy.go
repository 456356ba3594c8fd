package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/bffgateway/pkg/credential"
	"github.com/nao1215/bffgateway/pkg/middleware"
)

// maxRequestBodyBytes はプロキシが受け付けるリクエストボディの上限。
const maxRequestBodyBytes = 32 << 20

// proxyMethods はプロキシが受け付けるHTTPメソッド。
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

var (
	// errUpstreamUnreachable は上流APIへ到達できなかったことを表す。
	errUpstreamUnreachable = errors.New("上流APIに到達できません")
	// errUpstreamTimeout は上流APIの応答がタイムアウトしたことを表す。
	errUpstreamTimeout = errors.New("上流APIの応答がタイムアウトしました")
	// errClientCanceled はブラウザが応答を待たずに切断したことを表す。
	errClientCanceled = errors.New("クライアントがリクエストを中断しました")
)

// upstreamFailureMessage はクライアントへ返す汎用エラーメッセージ。
// 上流のホスト名やポートなどの接続情報を含めてはならない。
const upstreamFailureMessage = "上流APIとの通信に失敗しました"

// handleProxy はプレフィックス配下のリクエストを上流APIへ転送するハンドラを返す。
// リトライは行わず、1回の失敗はそのまま1回の失敗としてブラウザへ返す。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := s.upstreamTarget(c.Request.URL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "不正なパスです"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodyBytes)
		body, err := readBody(c.Request)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "リクエストボディが大きすぎます"})
				return
			}
			log.Printf("[Proxy] リクエストボディの読み取りに失敗: path=%s, request_id=%s, error=%v",
				c.Request.URL.Path, middleware.GetRequestID(c), err)
			c.JSON(http.StatusBadRequest, gin.H{"message": "リクエストボディの読み取りに失敗しました"})
			return
		}

		method := c.Request.Method
		start := time.Now()
		resp, err := s.upstream.Do(c.Request.Context(), method, target, s.outboundHeader(c.Request, body), body.reader())
		s.metrics.upstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			failure := classifyTransportError(err)
			s.metrics.proxyFailures.WithLabelValues(failureReason(failure)).Inc()
			// 接続先の詳細はサーバー側のログにのみ出力する
			log.Printf("[Proxy] プロキシエラー: method=%s, url=%s, body=%s, request_id=%s, error=%v",
				method, s.upstream.BaseURL()+target, body.kind, middleware.GetRequestID(c), failure)
			c.JSON(http.StatusInternalServerError, gin.H{"message": upstreamFailureMessage})
			return
		}
		defer resp.Body.Close()

		s.metrics.proxyRequests.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()
		if resp.StatusCode >= http.StatusBadRequest {
			// 上流のエラー応答はゲートウェイのエラーではないため、そのまま中継して記録のみ行う
			log.Printf("[Proxy] 上流APIがエラーを返却: method=%s, path=%s, status=%d, request_id=%s",
				method, target, resp.StatusCode, middleware.GetRequestID(c))
		}
		relayResponse(c, resp)
	}
}

// upstreamTarget はリクエストURLからプレフィックスを除いたパスとクエリを返す。
// エンコード済みのパスとクエリをそのまま使用し、再エンコードしない。
func (s *Server) upstreamTarget(u *url.URL) (string, error) {
	escaped := u.EscapedPath()
	rest, found := strings.CutPrefix(escaped, s.config.ProxyPrefix)
	if !found {
		return "", fmt.Errorf("プロキシプレフィックスが一致しません: %q", escaped)
	}
	if hasDotSegment(rest) {
		return "", fmt.Errorf("ドットセグメントを含むパスは転送できません: %q", escaped)
	}
	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}
	return rest, nil
}

// hasDotSegment はパスに "." または ".." のセグメントが含まれるかを判定する。
// 上流のベースパスより上位へ抜けるリクエストを防ぐ。
// 上流がデコード後に区切るケースに備え、エンコードされた "/" と "\" も区切りとして扱う。
func hasDotSegment(escapedPath string) bool {
	for _, seg := range strings.Split(escapedPath, "/") {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return true
		}
		for _, piece := range strings.FieldsFunc(decoded, isPathSeparator) {
			if piece == "." || piece == ".." {
				return true
			}
		}
	}
	return false
}

// isPathSeparator はrがパスの区切り文字かを判定する。
func isPathSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// outboundHeader は上流へ送るヘッダーを組み立てる。
// ブラウザ向けのクッキーを終端し、上流が期待する形式でクレデンシャルを付け直す。
func (s *Server) outboundHeader(r *http.Request, body outboundBody) http.Header {
	h := http.Header{}
	if body.contentType != "" {
		h.Set("Content-Type", body.contentType)
	}
	for _, key := range []string{"Accept", "Accept-Language"} {
		if v := r.Header.Get(key); v != "" {
			h.Set(key, v)
		}
	}

	raw, ok := credential.Read(r, s.config.CookieName)
	if !ok {
		return h
	}
	switch s.config.UpstreamAuthScheme {
	case AuthSchemeBearer:
		h.Set("Authorization", "Bearer "+raw)
	default:
		h.Set("Cookie", credential.Header(s.config.CookieName, raw))
	}
	return h
}

// relayResponse は上流のレスポンスをブラウザへ中継する。
// Set-Cookieは1つにまとめると不正になるため、個別のヘッダーとしてそのまま転送する。
func relayResponse(c *gin.Context, resp *http.Response) {
	header := c.Writer.Header()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		header.Set("Content-Type", ct)
	}
	for _, v := range resp.Header.Values("Set-Cookie") {
		header.Add("Set-Cookie", v)
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		header.Set("Location", loc)
	}

	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		log.Printf("[Proxy] レスポンスの中継に失敗: status=%d, request_id=%s, error=%v",
			resp.StatusCode, middleware.GetRequestID(c), err)
	}
}

// classifyTransportError は上流との通信エラーを分類したエラーに変換する。
func classifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", errClientCanceled, err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", errUpstreamTimeout, err)
	default:
		return fmt.Errorf("%w: %w", errUpstreamUnreachable, err)
	}
}

// failureReason は分類済みエラーをメトリクスのラベルに変換する。
func failureReason(err error) string {
	switch {
	case errors.Is(err, errClientCanceled):
		return "canceled"
	case errors.Is(err, errUpstreamTimeout):
		return "timeout"
	default:
		return "unreachable"
	}
}
