// BFFゲートウェイのエントリポイント。
// ブラウザ向けのクッキーセッションを終端し、上流APIへのプロキシとページのゲートを担当する。
// 外部からアクセス可能な唯一のサービスであり、クレデンシャルがブラウザのスクリプトに露出しない境界となる。
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/bffgateway/internal/gateway"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd はgatewayコマンドを生成する。
// 設定は環境変数から読み込み、明示的に指定されたフラグで上書きする。
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "gateway",
		Short:        "Backend-for-frontend gateway",
		Long:         "ブラウザのクッキーセッションを上流APIの認証形式へ変換するBFFゲートウェイ。",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(cmd)
			if err != nil {
				log.Printf("設定の読み込みに失敗: %v", err)
				return err
			}

			server, err := gateway.NewServer(cfg)
			if err != nil {
				log.Printf("Gatewayサーバーの初期化に失敗: %v", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("Gatewayサービスを起動します: :%s (upstream=%s)", cfg.Port, cfg.UpstreamURL)
			return server.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringP("port", "p", "", "リッスンするポート (PORT)")
	f.String("upstream", "", "上流APIのベースURL (UPSTREAM_API_URL)")
	f.String("pages-dir", "", "ページとして配信するディレクトリ (PAGES_DIR)")
	f.String("frontend-url", "", "CORSを許可するオリジン。空文字列でCORSを無効化 (FRONTEND_URL)")
	f.String("upstream-auth", "", "上流へのクレデンシャルの渡し方: cookie または bearer (UPSTREAM_AUTH_SCHEME)")
	f.Bool("cookie-secure", false, "クッキーにSecure属性を付与する (COOKIE_SECURE)")
	f.Duration("upstream-timeout", 0, "上流API呼び出しのタイムアウト (UPSTREAM_TIMEOUT)")

	return cmd
}

// buildConfig は環境変数から設定を読み込み、指定されたフラグの値で上書きする。
func buildConfig(cmd *cobra.Command) (gateway.Config, error) {
	cfg, err := gateway.LoadConfig()
	if err != nil {
		return gateway.Config{}, err
	}

	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Port, _ = f.GetString("port")
	}
	if f.Changed("upstream") {
		cfg.UpstreamURL, _ = f.GetString("upstream")
	}
	if f.Changed("pages-dir") {
		cfg.PagesDir, _ = f.GetString("pages-dir")
	}
	if f.Changed("frontend-url") {
		cfg.FrontendURL, _ = f.GetString("frontend-url")
	}
	if f.Changed("upstream-auth") {
		scheme, _ := f.GetString("upstream-auth")
		cfg.UpstreamAuthScheme = gateway.AuthScheme(scheme)
	}
	if f.Changed("cookie-secure") {
		cfg.CookieSecure, _ = f.GetBool("cookie-secure")
	}
	if f.Changed("upstream-timeout") {
		cfg.UpstreamTimeout, _ = f.GetDuration("upstream-timeout")
	}

	if err := cfg.Validate(); err != nil {
		return gateway.Config{}, err
	}
	return cfg, nil
}
