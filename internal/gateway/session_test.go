package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// getSession はセッション確認エンドポイントを呼び出し、レスポンスを返す。
func getSession(t *testing.T, s *Server, tok string) (*httptest.ResponseRecorder, sessionStatus) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	if tok != "" {
		withCredential(req, tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var status sessionStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v (body=%s)", err, w.Body.String())
	}
	return w, status
}

// TestHandleSession はセッション確認エンドポイントを検証する。
func TestHandleSession(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		token      func(t *testing.T) string
		wantValid  bool
		wantReason string
	}{
		{
			name:       "クレデンシャルなし",
			token:      func(*testing.T) string { return "" },
			wantValid:  false,
			wantReason: "no_token",
		},
		{
			name:       "期限切れ",
			token:      func(t *testing.T) string { return generateTestToken(t, testNow.Add(-time.Minute)) },
			wantValid:  false,
			wantReason: "expired",
		},
		{
			name:       "期限がちょうど現在時刻",
			token:      func(t *testing.T) string { return generateTestToken(t, testNow) },
			wantValid:  false,
			wantReason: "expired",
		},
		{
			name:       "有効",
			token:      validToken,
			wantValid:  true,
			wantReason: "",
		},
		{
			name:       "不正な形式",
			token:      func(*testing.T) string { return "abc.def" },
			wantValid:  false,
			wantReason: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t)
			w, status := getSession(t, s, tt.token(t))

			if w.Code != http.StatusOK {
				t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
			}
			if status.Valid != tt.wantValid {
				t.Errorf("valid: got %v, want %v", status.Valid, tt.wantValid)
			}
			if status.Reason != tt.wantReason {
				t.Errorf("reason: got %q, want %q", status.Reason, tt.wantReason)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control: got %q, want %q", got, "no-store")
			}
		})
	}
}

// TestHandleSessionValidOmitsReason は有効な場合にreasonが出力されないことを検証する。
func TestHandleSessionValidOmitsReason(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w, _ := getSession(t, s, validToken(t))

	if strings.Contains(w.Body.String(), "reason") {
		t.Errorf("有効な場合はreasonを含まない: got %s", w.Body.String())
	}
	if got := testutil.ToFloat64(s.metrics.sessionChecks.WithLabelValues("valid")); got != 1 {
		t.Errorf("validの件数: got %v, want 1", got)
	}
}

// TestHandleSessionIsIdempotent は同じ時刻での繰り返し呼び出しが同じ結果を返すことを検証する。
func TestHandleSessionIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	tok := validToken(t)

	first, _ := getSession(t, s, tok)
	for range 5 {
		w, _ := getSession(t, s, tok)
		if w.Body.String() != first.Body.String() {
			t.Fatalf("レスポンスが変化した: got %s, want %s", w.Body.String(), first.Body.String())
		}
	}
}

// TestHandleSessionExpiresOverTime は時刻の経過でトークンが期限切れになることを検証する。
func TestHandleSessionExpiresOverTime(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := testNow
	s := newTestServer(t, WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))
	tok := generateTestToken(t, testNow.Add(30*time.Second))

	if _, status := getSession(t, s, tok); !status.Valid {
		t.Fatalf("期限前は有効であるべき: got %+v", status)
	}

	mu.Lock()
	now = testNow.Add(30 * time.Second)
	mu.Unlock()

	_, status := getSession(t, s, tok)
	if status.Valid || status.Reason != "expired" {
		t.Errorf("期限後は期限切れであるべき: got %+v", status)
	}
}

// TestHandleSessionRecoversFromPanic は判定中のパニックがerrorとして報告されることを検証する。
func TestHandleSessionRecoversFromPanic(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, WithClock(func() time.Time {
		panic("clock unavailable")
	}))

	w, status := getSession(t, s, validToken(t))

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	if status.Valid || status.Reason != "error" {
		t.Errorf("パニック時はerrorを返すべき: got %+v", status)
	}
}

// TestHandleLogout はログアウトエンドポイントを検証する。
func TestHandleLogout(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := withCredential(httptest.NewRequest(http.MethodPost, "/api/session/logout", nil), validToken(t))
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Set-Cookieの数: got %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != "access_token" || c.Value != "" {
		t.Errorf("クッキー: got %s=%q, want access_token=\"\"", c.Name, c.Value)
	}
	if c.MaxAge >= 0 {
		t.Errorf("MaxAge: got %d, want 負の値", c.MaxAge)
	}
	if !c.HttpOnly {
		t.Error("HttpOnly属性が付与されていない")
	}
	if c.Path != "/" {
		t.Errorf("Path: got %q, want %q", c.Path, "/")
	}
}
