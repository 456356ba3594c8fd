// Package token はセッションクレデンシャル（JWT形式のコンパクトトークン）の
// クレームを署名検証なしでデコードし、有効期限を判定する。
//
// 署名の検証は上流APIの責務であり、このパッケージでは行わない。
// ゲートウェイが明らかに無効なセッションに対する無駄な往復を避けるための
// 高速判定にのみ使用する。
package token
