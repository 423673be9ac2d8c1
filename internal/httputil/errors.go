package httputil

import (
	"errors"
	"fmt"
	"net/http"
)

// 客戶端錯誤分類.
// 發送相關的錯誤全部收斂到同一條「失敗氣泡」路徑，但各自對應不同的用戶提示.
var (
	// ErrNetwork 傳輸層失敗（任何 REST 呼叫）.
	ErrNetwork = errors.New("network error")

	// ErrDecrypt 單則訊息解密失敗（非致命，以降級渲染取代）.
	ErrDecrypt = errors.New("decrypt error")

	// ErrEncrypt 發送前加密失敗（僅中止該次發送）.
	ErrEncrypt = errors.New("encrypt error")

	// ErrValidation 伺服器拒絕的請求內容.
	ErrValidation = errors.New("validation error")

	// ErrEntitlement 需要付費方案 (402).
	ErrEntitlement = errors.New("entitlement required")

	// ErrPayloadTooLarge 附件過大 (413).
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnsupportedMedia 不支援的附件類型 (415).
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrRateLimited 請求過於頻繁 (429).
	ErrRateLimited = errors.New("rate limited")

	// ErrSendFailed 其餘發送失敗（可重試）.
	ErrSendFailed = errors.New("send failed")
)

// SendErrorFromStatus 將 HTTP 狀態碼映射為發送錯誤分類.
func SendErrorFromStatus(status int) error {
	switch status {
	case http.StatusPaymentRequired:
		return ErrEntitlement
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case http.StatusUnsupportedMediaType:
		return ErrUnsupportedMedia
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	default:
		return fmt.Errorf("%w: http %d", ErrSendFailed, status)
	}
}

// ErrorCode 取得錯誤對應的內部錯誤代碼.
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, ErrNetwork):
		return ErrorCodeNetwork
	case errors.Is(err, ErrDecrypt):
		return ErrorCodeDecrypt
	case errors.Is(err, ErrEncrypt):
		return ErrorCodeEncrypt
	case errors.Is(err, ErrValidation):
		return ErrorCodeValidation
	case errors.Is(err, ErrEntitlement):
		return ErrorCodeEntitlement
	case errors.Is(err, ErrPayloadTooLarge):
		return ErrorCodePayloadTooLarge
	case errors.Is(err, ErrUnsupportedMedia):
		return ErrorCodeUnsupportedType
	case errors.Is(err, ErrRateLimited):
		return ErrorCodeRateLimited
	default:
		return ErrorCodeSendFailed
	}
}

// UserMessage 取得錯誤對應的用戶提示文字.
// 不洩露內部細節，只給出可操作的說明.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrEntitlement):
		return "此功能需要升級方案"
	case errors.Is(err, ErrPayloadTooLarge):
		return "附件過大，請壓縮後重試"
	case errors.Is(err, ErrUnsupportedMedia):
		return "不支援的附件類型"
	case errors.Is(err, ErrRateLimited):
		return "發送過於頻繁，請稍後再試"
	case errors.Is(err, ErrValidation):
		return "訊息內容不符合要求"
	case errors.Is(err, ErrEncrypt):
		return "訊息加密失敗，未送出"
	default:
		return "發送失敗，點擊重試"
	}
}
