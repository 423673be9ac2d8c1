package httputil

// API 錯誤代碼常數.
const (
	// 1000-1999: 傳輸相關錯誤.
	ErrorCodeNetwork = 1001

	// 2000-2999: 參數相關錯誤 (400 Bad Request).
	ErrorCodeInvalidParameter = 2001
	ErrorCodeValidation       = 2002

	// 3000-3999: 加解密相關錯誤.
	ErrorCodeDecrypt = 3001
	ErrorCodeEncrypt = 3002

	// 4000-4999: 資源相關錯誤.
	ErrorCodeRecordNotFound = 4001

	// 6000-6999: 發送失敗相關錯誤（對應 HTTP 狀態碼）.
	ErrorCodeEntitlement     = 6402
	ErrorCodePayloadTooLarge = 6413
	ErrorCodeUnsupportedType = 6415
	ErrorCodeRateLimited     = 6429
	ErrorCodeSendFailed      = 6000
)
