package credential

import (
	"net/http"
	"time"
)

// DefaultCookieName はクレデンシャルを保持するクッキーの既定名。
const DefaultCookieName = "access_token"

// Options はクッキー書き込み時の属性。
type Options struct {
	// Secure はSecure属性を付与する場合にtrue。HTTPS環境では必ず有効にする。
	Secure bool
	// SameSite はSameSite属性。ゼロ値の場合はLaxを使用する。
	SameSite http.SameSite
}

// Read はリクエストのクッキーからクレデンシャルを取得する。
// クッキーが無い場合や値が空の場合はfalseを返す。
func Read(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Write はクレデンシャルをHTTP-onlyクッキーとして設定するSet-Cookieヘッダーを追加する。
// maxAgeは秒単位に切り捨てられる。
func Write(w http.ResponseWriter, name, value string, maxAge time.Duration, opts Options) {
	seconds := int(maxAge / time.Second)
	if seconds <= 0 {
		// Max-Age=0は削除と同義のため、正の寿命を持たない書き込みは削除として扱う
		Clear(w, name, opts)
		return
	}
	http.SetCookie(w, newCookie(name, value, seconds, opts))
}

// Clear はクレデンシャルクッキーを削除するSet-Cookieヘッダー（Max-Age=0）を追加する。
func Clear(w http.ResponseWriter, name string, opts Options) {
	// net/httpではMaxAgeが負の場合に "Max-Age=0" が出力される
	http.SetCookie(w, newCookie(name, "", -1, opts))
}

// Header は上流APIへ送るCookieヘッダーの値を "name=value" 形式で返す。
func Header(name, value string) string {
	return (&http.Cookie{Name: name, Value: value}).String()
}

// newCookie はクレデンシャル用のクッキーを組み立てる。
func newCookie(name, value string, maxAge int, opts Options) *http.Cookie {
	sameSite := opts.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: sameSite,
	}
}
