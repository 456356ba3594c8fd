package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/bffgateway/pkg/credential"
	"github.com/nao1215/bffgateway/pkg/httpclient"
)

// AuthScheme は上流APIへクレデンシャルを渡す方式。
type AuthScheme string

const (
	// AuthSchemeCookie は "Cookie: name=value" ヘッダーで渡す方式。
	AuthSchemeCookie AuthScheme = "cookie"
	// AuthSchemeBearer は "Authorization: Bearer value" ヘッダーで渡す方式。
	AuthSchemeBearer AuthScheme = "bearer"
)

// Config はゲートウェイの設定。
type Config struct {
	// Port はサーバーのリッスンポート。
	Port string
	// UpstreamURL は上流APIのベースURL。外部から与えられる不透明な値として扱う。
	UpstreamURL string
	// ProxyPrefix はプロキシ対象となる公開パスのプレフィックス（例: "/api/proxy"）。
	ProxyPrefix string
	// LoginPath はログインページのパス。
	LoginPath string
	// SessionPath はセッション確認エンドポイントのパス。
	SessionPath string
	// CookieName はクレデンシャルを保持するクッキー名。
	CookieName string
	// CookieSecure はクッキーにSecure属性を付与する場合にtrue。
	CookieSecure bool
	// UpstreamAuthScheme は上流APIへのクレデンシャルの渡し方。
	UpstreamAuthScheme AuthScheme
	// UpstreamTimeout は上流API呼び出し1回あたりのタイムアウト。
	UpstreamTimeout time.Duration
	// FrontendURL はCORSを許可するフロントエンドのオリジン。空の場合はCORSを無効にする。
	FrontendURL string
	// PagesDir はページとして配信する静的ファイルのディレクトリ。空の場合は配信しない。
	PagesDir string
	// StaticPrefixes はフレームワーク予約の静的アセット用プレフィックス。
	StaticPrefixes []string
}

// DefaultConfig は既定値の設定を返す。
func DefaultConfig() Config {
	return Config{
		Port:               "8080",
		UpstreamURL:        "http://localhost:8000",
		ProxyPrefix:        "/api/proxy",
		LoginPath:          "/login",
		SessionPath:        "/api/session",
		CookieName:         credential.DefaultCookieName,
		UpstreamAuthScheme: AuthSchemeCookie,
		UpstreamTimeout:    httpclient.DefaultTimeout,
		FrontendURL:        "http://localhost:3000",
		StaticPrefixes:     []string{"/static/", "/assets/", "/_app/"},
	}
}

// LoadConfig は環境変数から設定を読み込む。未設定の項目は既定値を使用する。
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	cfg.Port = getEnvOr("PORT", cfg.Port)
	cfg.UpstreamURL = getEnvOr("UPSTREAM_API_URL", cfg.UpstreamURL)
	cfg.ProxyPrefix = getEnvOr("PROXY_PREFIX", cfg.ProxyPrefix)
	cfg.LoginPath = getEnvOr("LOGIN_PATH", cfg.LoginPath)
	cfg.SessionPath = getEnvOr("SESSION_PATH", cfg.SessionPath)
	cfg.CookieName = getEnvOr("CREDENTIAL_COOKIE", cfg.CookieName)
	cfg.UpstreamAuthScheme = AuthScheme(getEnvOr("UPSTREAM_AUTH_SCHEME", string(cfg.UpstreamAuthScheme)))
	cfg.FrontendURL = getEnvOr("FRONTEND_URL", cfg.FrontendURL)
	cfg.PagesDir = getEnvOr("PAGES_DIR", cfg.PagesDir)

	if v := os.Getenv("UPSTREAM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("UPSTREAM_TIMEOUTの形式が不正: %w", err)
		}
		cfg.UpstreamTimeout = d
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("COOKIE_SECUREの形式が不正: %w", err)
		}
		cfg.CookieSecure = b
	}
	if v := os.Getenv("STATIC_PREFIXES"); v != "" {
		cfg.StaticPrefixes = splitList(v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c Config) Validate() error {
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("上流APIのURLが不正: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("上流APIのURLは絶対URLである必要があります: %q", c.UpstreamURL)
	}

	paths := []struct {
		name  string
		value string
	}{
		{name: "プロキシプレフィックス", value: c.ProxyPrefix},
		{name: "ログインパス", value: c.LoginPath},
		{name: "セッションパス", value: c.SessionPath},
	}
	for _, p := range paths {
		if !strings.HasPrefix(p.value, "/") || p.value == "/" || strings.HasSuffix(p.value, "/") {
			return fmt.Errorf("%sは'/'で始まり'/'で終わらない必要があります: %q", p.name, p.value)
		}
	}

	if hasPathPrefix(c.SessionPath, c.ProxyPrefix) || hasPathPrefix(c.ProxyPrefix, c.SessionPath) {
		return fmt.Errorf("セッションパスとプロキシプレフィックスは重複できません: %q, %q", c.SessionPath, c.ProxyPrefix)
	}

	if c.CookieName == "" {
		return errors.New("クッキー名が空です")
	}
	switch c.UpstreamAuthScheme {
	case AuthSchemeCookie, AuthSchemeBearer:
	default:
		return fmt.Errorf("未知の上流認証方式: %q", c.UpstreamAuthScheme)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("上流APIのタイムアウトは正の値である必要があります: %v", c.UpstreamTimeout)
	}
	return nil
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
