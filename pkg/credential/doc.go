// Package credential はセッションクレデンシャルをHTTP-onlyクッキーとして読み書きする。
//
// すべての操作はリクエスト・レスポンスを引数として受け取り、プロセス内に状態を持たない。
package credential
