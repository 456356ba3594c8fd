package gateway

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/bffgateway/pkg/credential"
	"github.com/nao1215/bffgateway/pkg/middleware"
	"github.com/nao1215/bffgateway/pkg/token"
)

// sessionReasonError はセッション判定中の予期しない失敗を表す理由。
// 不正な形式のトークンもクライアントにはこの理由で報告する。
const sessionReasonError = "error"

// sessionStatus はセッション確認エンドポイントのレスポンス。
type sessionStatus struct {
	// Valid はクレデンシャルが存在し、期限内である場合にtrue。
	Valid bool `json:"valid"`
	// Reason は無効な場合の理由（"no_token", "expired", "error"）。
	Reason string `json:"reason,omitempty"`
}

// checkSession はリクエストのクレデンシャルを判定する。
// ポーリングする呼び出し側を壊さないよう、いかなる失敗も無効として報告し、パニックを外に出さない。
func (s *Server) checkSession(r *http.Request) (status sessionStatus) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Session] セッション判定中にパニック: %v", rec)
			status = sessionStatus{Valid: false, Reason: sessionReasonError}
		}
	}()

	raw, ok := credential.Read(r, s.config.CookieName)
	if !ok {
		return sessionStatus{Valid: false, Reason: string(token.ReasonNoToken)}
	}

	result := token.Validate(raw, s.now())
	switch result.Reason {
	case token.ReasonNone:
		return sessionStatus{Valid: true}
	case token.ReasonExpired:
		return sessionStatus{Valid: false, Reason: string(token.ReasonExpired)}
	default:
		return sessionStatus{Valid: false, Reason: sessionReasonError}
	}
}

// handleSession はセッション確認エンドポイントのハンドラを返す。
// 常に200でsessionStatusを返す。
func (s *Server) handleSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := s.checkSession(c.Request)

		result := status.Reason
		if status.Valid {
			result = "valid"
		}
		s.metrics.sessionChecks.WithLabelValues(result).Inc()

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, status)
	}
}

// handleLogout はクレデンシャルクッキーを削除するハンドラを返す。
// 上流APIに到達できない場合でもブラウザ側のセッションを破棄できるようにする。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential.Clear(c.Writer, s.config.CookieName, s.cookieOptions())
		log.Printf("[Session] クレデンシャルを削除しました: request_id=%s", middleware.GetRequestID(c))
		c.Header("Cache-Control", "no-store")
		c.Status(http.StatusNoContent)
	}
}
