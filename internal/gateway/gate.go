package gateway

import (
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/bffgateway/pkg/credential"
	"github.com/nao1215/bffgateway/pkg/middleware"
	"github.com/nao1215/bffgateway/pkg/token"
)

const (
	// healthPath はヘルスチェックのパス。
	healthPath = "/health"
	// metricsPath はメトリクス公開のパス。
	metricsPath = "/metrics"
	// rootPath はアプリケーションのルート。
	rootPath = "/"
)

// routeClass はゲートにおけるリクエストの分類。
type routeClass int

const (
	// routePublic は認証なしで通過できるパス。
	routePublic routeClass = iota
	// routeProtectedAuthorized は有効なクレデンシャルを持つ保護パス。
	routeProtectedAuthorized
	// routeProtectedUnauthorized はクレデンシャルが無いか無効な保護パス。
	routeProtectedUnauthorized
)

// gate はすべてのリクエストに先立って実行されるルートゲートを返す。
//
// この判定は高速化のための助言的なものであり、上流APIへのアクセス権を与えない。
// 上流APIはプロキシ経由の呼び出しごとにクレデンシャルを独自に検証する。
func (s *Server) gate() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		raw, _ := credential.Read(c.Request, s.config.CookieName)

		if s.isPublicPath(p) {
			// 認証済みユーザーにはログインフォームを見せない
			if path.Clean(p) == s.config.LoginPath && token.IsValid(raw, s.now()) {
				s.metrics.gateDecisions.WithLabelValues("redirect_root").Inc()
				c.Redirect(http.StatusTemporaryRedirect, rootPath)
				c.Abort()
				return
			}
			s.metrics.gateDecisions.WithLabelValues("public").Inc()
			c.Next()
			return
		}

		result := token.Validate(raw, s.now())
		if s.classify(result) == routeProtectedUnauthorized {
			log.Printf("[Gate] 未認証のためログインへリダイレクト: path=%s, reason=%s, token=%s, request_id=%s",
				p, result.Reason, token.Fingerprint(raw), middleware.GetRequestID(c))
			s.metrics.gateDecisions.WithLabelValues("redirect_login").Inc()
			c.Redirect(http.StatusTemporaryRedirect, loginRedirectURL(s.config.LoginPath, p))
			c.Abort()
			return
		}

		s.metrics.gateDecisions.WithLabelValues("authorized").Inc()
		c.Next()
	}
}

// classify は保護パスに対するトークン判定結果を分類する。
func (s *Server) classify(result token.Result) routeClass {
	if result.Valid {
		return routeProtectedAuthorized
	}
	return routeProtectedUnauthorized
}

// isPublicPath はパスがゲートの許可リストに含まれるかを判定する。
//
// プロキシプレフィックス配下は、ログイン呼び出し自体が認証前に到達できる必要があるため
// 許可リストに含める。認可は上流APIが行う。
func (s *Server) isPublicPath(p string) bool {
	// "/api/proxy/../admin" のようなパスで許可リストをすり抜けられないよう正規化する
	p = path.Clean(p)

	switch p {
	case s.config.LoginPath, s.config.SessionPath, s.logoutPath(), healthPath, metricsPath:
		return true
	}
	if hasPathPrefix(p, s.config.ProxyPrefix) {
		return true
	}
	return isStaticAsset(p, s.config.StaticPrefixes)
}

// isStaticAsset はパスが静的アセットを指すかを判定する。
// 拡張子を持つパスと、フレームワーク予約のプレフィックス配下が対象。
func isStaticAsset(p string, staticPrefixes []string) bool {
	if path.Ext(p) != "" {
		return true
	}
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(p+"/", prefix) {
			return true
		}
	}
	return false
}

// hasPathPrefix はpがprefix自身か、その配下のパスである場合にtrueを返す。
func hasPathPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// loginRedirectURL は元のパスをfromクエリに付与したログインURLを返す。
// 元のパスがルートの場合はfromを付与しない。
func loginRedirectURL(loginPath, from string) string {
	if from == "" || from == rootPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{"from": {from}}.Encode()
}
