package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にサーバー側のログへ詳細を出力し、クライアントには汎用メッセージの500を返す。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PANIC] %s %s: request_id=%s, panic=%v",
					c.Request.Method, c.Request.URL.Path, GetRequestID(c), r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"message": "内部サーバーエラーが発生しました",
				})
			}
		}()
		c.Next()
	}
}
