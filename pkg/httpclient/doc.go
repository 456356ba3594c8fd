// Package httpclient はゲートウェイから上流APIへのHTTP通信を行うクライアントを提供する。
//
// ベースURLとタイムアウトを保持し、リクエストIDとトレースコンテキストを
// 上流へ伝播する。リトライは行わない。
package httpclient
