package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/nao1215/bffgateway/pkg/credential"
	"github.com/nao1215/bffgateway/pkg/httpclient"
	"github.com/nao1215/bffgateway/pkg/middleware"
)

// Server はBFFゲートウェイのHTTPサーバー。
// リクエスト間で共有する可変状態を持たない。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// config はゲートウェイの設定。
	config Config
	// upstream は上流API呼び出し用のHTTPクライアント。
	upstream *httpclient.Client
	// registry はメトリクスのレジストリ。
	registry *prometheus.Registry
	// metrics はゲートウェイのメトリクス。
	metrics *metrics
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
	// pages はゲート通過後の非APIパスを処理するハンドラ。nilの場合は404を返す。
	pages http.Handler
	// tracerProvider はトレース用のプロバイダ。nilの場合はグローバルを使用する。
	tracerProvider trace.TracerProvider
}

// Option はServerの生成オプション。
type Option func(*Server)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithPageHandler はゲート通過後のページ配信に使うハンドラを設定する。
func WithPageHandler(h http.Handler) Option {
	return func(s *Server) {
		s.pages = h
	}
}

// WithTracerProvider はトレース用のTracerProviderを設定する。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracerProvider = tp
	}
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		config:   cfg,
		upstream: httpclient.New(cfg.UpstreamURL, cfg.UpstreamTimeout),
		registry: registry,
		metrics:  newMetrics(registry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pages == nil && cfg.PagesDir != "" {
		s.pages = http.FileServer(http.Dir(cfg.PagesDir))
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.Tracing(s.tracerProvider))
	if cfg.FrontendURL != "" {
		router.Use(middleware.CORS([]string{cfg.FrontendURL}))
	}
	router.Use(s.gate())
	s.router = router
	s.setupRoutes()

	return s, nil
}

// Handler はゲートウェイのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.config.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("サーバーの起動に失敗: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		log.Printf("Gatewayサービスを停止します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("サーバーの停止に失敗: %w", err)
		}
		return <-done
	case err := <-done:
		return err
	}
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	// セッション確認（クライアントからのポーリング用）
	s.router.GET(s.config.SessionPath, s.handleSession())
	s.router.POST(s.logoutPath(), s.handleLogout())

	// 上流APIへのプロキシ（メソッド・パスを問わず転送）
	for _, method := range proxyMethods {
		s.router.Handle(method, s.config.ProxyPrefix+"/*path", s.handleProxy())
	}

	// ヘルスチェック
	s.router.GET(healthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	// ゲートを通過したページ
	s.router.NoRoute(s.handlePage())
}

// handlePage はAPI以外のパスを処理するハンドラを返す。
func (s *Server) handlePage() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.pages == nil || strings.HasPrefix(c.Request.URL.Path, s.config.ProxyPrefix+"/") {
			c.JSON(http.StatusNotFound, gin.H{"message": "ページが見つかりません"})
			return
		}
		// NoRouteでは404が設定済みのため、ゲートを通過したページは200から始める
		c.Status(http.StatusOK)
		s.pages.ServeHTTP(c.Writer, c.Request)
	}
}

// logoutPath はログアウトエンドポイントのパスを返す。
func (s *Server) logoutPath() string {
	return s.config.SessionPath + "/logout"
}

// cookieOptions はクレデンシャルクッキーの属性を返す。
func (s *Server) cookieOptions() credential.Options {
	return credential.Options{Secure: s.config.CookieSecure}
}
