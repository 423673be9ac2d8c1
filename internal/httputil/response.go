package httputil

import "github.com/gin-gonic/gin"

// 錯誤訊息常數.
const (
	InvalidParameter = "Invalid parameter"
	ProcessingFailed = "Processing failed"
	RecordNotFound   = "Record not found"
)

// Error 自定義錯誤結構.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Success 回傳簡單的成功訊息回應.
func Success(message string) gin.H {
	return gin.H{"message": message}
}

// ErrorMessage 回傳簡單的錯誤訊息回應.
func ErrorMessage(message string) gin.H {
	return gin.H{"error": message}
}

// ErrorWithCode 回傳包含錯誤代碼的錯誤回應.
func ErrorWithCode(code int, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
