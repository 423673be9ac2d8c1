package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultRequestTimeout = 15 // 秒
	DefaultSendTimeout    = 10 // 秒
)

// 分頁相關常數
const (
	DefaultPageSize    = 30
	DefaultMaxPageSize = 100
	MinPageSize        = 1
)

// 捲動錨點相關常數
const (
	DefaultNearBottomPx = 10
	DefaultNearTopPx    = 120
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 10000
	DefaultMaxAttachments   = 10
	MessageChannelBuffer    = 64
	TempIDPrefix            = "temp-"
)

// 輸入指示相關常數
const (
	DefaultTypingTimeoutSeconds = 5
)

// 即時通道相關常數
const (
	DefaultSocketWriteWaitSeconds = 10
	DefaultSocketPongWaitSeconds  = 60
	DefaultSocketMaxMessageSize   = 64 << 10 // 64KB
)

// 加密相關常數
const (
	EncryptedPrefixLength = 10
	RoomKeyLength         = 32 // 256 bits
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)
