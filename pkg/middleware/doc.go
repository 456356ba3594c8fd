// Package middleware はGinベースのゲートウェイで使用する共通ミドルウェアを提供する。
//
// パニックリカバリ、CORS設定、リクエストIDの採番、OpenTelemetryによる
// トレースなど、ルーティングに依存しない横断的な処理を含む。
package middleware
