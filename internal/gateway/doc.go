// Package gateway は管理画面向けBFF（Backend-for-Frontend）ゲートウェイの内部実装を提供する。
//
// ブラウザと上流APIの間に位置し、セッションクレデンシャルをHTTP-onlyクッキーで保持する。
// 保護されたルートへのアクセスをページ処理より前に判定し（ルートゲート）、
// 固定プレフィックス配下のAPI呼び出しをクレデンシャルの運搬形式を変換しながら
// 上流APIへ転送する（リクエストプロキシ）。署名の検証は上流APIに委ねる。
package gateway
