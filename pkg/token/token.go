package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken はトークンが存在しないことを表す。
	ErrNoToken = errors.New("トークンがありません")
	// ErrMalformedToken はトークンの構造、base64url、JSONのいずれかが不正であることを表す。
	ErrMalformedToken = errors.New("トークンの形式が不正です")
	// ErrExpiredToken はトークンのexpクレームが現在時刻以前であることを表す。
	ErrExpiredToken = errors.New("トークンの有効期限が切れています")
)

// segmentDecoder はbase64urlセグメントのデコードに使用するパーサー。
// 署名検証には使用しない。パディング付きのセグメントも受け付ける。
var segmentDecoder = jwt.NewParser(jwt.WithPaddingAllowed())

// Reason はトークンが無効と判定された理由。
type Reason string

const (
	// ReasonNone はトークンが有効であることを表す。
	ReasonNone Reason = ""
	// ReasonNoToken はトークンが存在しないことを表す。
	ReasonNoToken Reason = "no_token"
	// ReasonMalformed はトークンがデコードできないことを表す。
	ReasonMalformed Reason = "malformed"
	// ReasonExpired はトークンの有効期限が切れていることを表す。
	ReasonExpired Reason = "expired"
)

// Result はトークン判定の結果。診断用に無効理由を保持する。
type Result struct {
	// Valid はトークンが整形式かつ期限内である場合にtrue。
	Valid bool
	// Reason は無効な場合の理由。有効な場合はReasonNone。
	Reason Reason
}

// Decode はトークン文字列を "header.claims.signature" の3セグメントに分割し、
// 2番目のセグメントをクレームとしてデコードする。
// ヘッダーと署名は検証しない。
func Decode(raw string) (jwt.MapClaims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}
	for _, p := range parts {
		if p == "" {
			return nil, ErrMalformedToken
		}
	}

	payload, err := segmentDecoder.DecodeSegment(parts[1])
	if err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}
	if claims == nil {
		return nil, ErrMalformedToken
	}

	// expが数値以外の場合は期限判定ができないため不正とみなす
	if _, err := claims.GetExpirationTime(); err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}
	if exp, ok := claims["exp"].(float64); ok && !isRepresentableSeconds(exp) {
		return nil, fmt.Errorf("%w: expが範囲外です: %v", ErrMalformedToken, exp)
	}
	return claims, nil
}

// maxExpSeconds はexpとして受け付ける秒数の絶対値の上限。
// float64で正確に表現できる整数の最大値であり、int64への変換で桁あふれしない。
const maxExpSeconds = 1 << 53

// isRepresentableSeconds はexpの値が秒数として安全に扱える範囲かを判定する。
func isRepresentableSeconds(exp float64) bool {
	return exp >= -maxExpSeconds && exp <= maxExpSeconds
}

// IsExpired はexpが存在し、かつ exp <= now（秒単位）である場合にtrueを返す。
// expが存在しない場合は期限切れとみなさない。
// 秒数として表現できない巨大なexpは、符号に応じて遠い未来または遠い過去として扱う。
func IsExpired(claims jwt.MapClaims, now time.Time) bool {
	if v, ok := claims["exp"].(float64); ok && !isRepresentableSeconds(v) {
		return v < 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Unix() <= now.Unix()
}

// Validate はトークンをデコードし、有効期限を判定した結果を返す。
func Validate(raw string, now time.Time) Result {
	if raw == "" {
		return Result{Reason: ReasonNoToken}
	}
	claims, err := Decode(raw)
	if err != nil {
		return Result{Reason: ReasonMalformed}
	}
	if IsExpired(claims, now) {
		return Result{Reason: ReasonExpired}
	}
	return Result{Valid: true}
}

// IsValid はトークンが整形式かつ期限内である場合にtrueを返す。
// デコードエラーはfalseに畳み込まれる。
func IsValid(raw string, now time.Time) bool {
	return Validate(raw, now).Valid
}

// Err は判定結果に対応するエラーを返す。有効な場合はnil。
func (r Result) Err() error {
	switch r.Reason {
	case ReasonNone:
		return nil
	case ReasonNoToken:
		return ErrNoToken
	case ReasonExpired:
		return ErrExpiredToken
	default:
		return ErrMalformedToken
	}
}

// Fingerprint はログ出力用にトークンの先頭8文字のみを返す。
// トークン全体をログに出力してはならない。
func Fingerprint(raw string) string {
	const n = 8
	if len(raw) <= n {
		return strings.Repeat("*", len(raw))
	}
	return raw[:n] + "..."
}
