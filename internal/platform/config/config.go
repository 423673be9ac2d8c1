package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 應用程式配置結構.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	API      APIConfig      `mapstructure:"api"`
	Socket   SocketConfig   `mapstructure:"socket"`
	Viewer   ViewerConfig   `mapstructure:"viewer"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// APIConfig REST API 端點配置.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"` // Bearer token（由外部認證流程取得，本客戶端不解析）
	Timeout int    `mapstructure:"timeout"`
}

// SocketConfig 即時通道配置.
type SocketConfig struct {
	URL            string `mapstructure:"url"`
	PingInterval   int    `mapstructure:"ping_interval_seconds"`
	PongWait       int    `mapstructure:"pong_wait_seconds"`
	WriteWait      int    `mapstructure:"write_wait_seconds"`
	MaxMessageSize int64  `mapstructure:"max_message_size"`
}

// ViewerConfig 當前使用者配置.
type ViewerConfig struct {
	UserID string `mapstructure:"user_id"`
}

// DatabaseConfig 資料庫配置（僅 devserver 使用）.
type DatabaseConfig struct {
	Mongo MongoConfig `mapstructure:"mongo"`
}

// MongoConfig MongoDB 配置.
type MongoConfig struct {
	URL             string `mapstructure:"url"`
	Database        string `mapstructure:"database"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	MaxPoolSize     uint64 `mapstructure:"max_pool_size"`
	MinPoolSize     uint64 `mapstructure:"min_pool_size"`
	MaxConnIdleTime int    `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  int    `mapstructure:"connect_timeout"`
}

// CacheConfig 本地快取協作者配置（只寫不讀）.
type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	RotationTimeHours int `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
}

// SecurityConfig 安全配置.
type SecurityConfig struct {
	Encryption EncryptionConfig `mapstructure:"encryption"`
}

// EncryptionConfig 加密配置.
type EncryptionConfig struct {
	Strict bool `mapstructure:"strict"` // 嚴格端對端加密（加密失敗即中止發送）
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Pagination PaginationLimitsConfig `mapstructure:"pagination"`
	Scroll     ScrollLimitsConfig     `mapstructure:"scroll"`
	Message    MessageLimitsConfig    `mapstructure:"message"`
}

// PaginationLimitsConfig 分頁限制配置.
type PaginationLimitsConfig struct {
	PageSize    int `mapstructure:"page_size"`
	MaxPageSize int `mapstructure:"max_page_size"`
}

// ScrollLimitsConfig 捲動錨點閾值配置.
type ScrollLimitsConfig struct {
	NearBottomPx int `mapstructure:"near_bottom_px"`
	NearTopPx    int `mapstructure:"near_top_px"`
}

// MessageLimitsConfig 訊息限制配置.
type MessageLimitsConfig struct {
	MaxLength      int `mapstructure:"max_length"`
	MaxAttachments int `mapstructure:"max_attachments"`
	ChannelBuffer  int `mapstructure:"channel_buffer"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	// 如果直接傳入配置（主要用於測試），設定並驗證
	if len(testCfg) > 0 && testCfg[0] != nil {
		config = testCfg[0]
		if err := validateConfig(config); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		return nil
	}

	// 初始化 Viper
	v := viper.New()

	// 檢查是否有 CONFIG_PATH 環境變數
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
		// 從檔案名稱推斷環境
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	// 讀取配置檔案
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	// 將配置綁定到結構體
	config = &Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}

	// 驗證配置
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}

	return nil
}

// Get 取得設定.
func Get() *Config {
	return config
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	// 驗證應用程式配置
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("應用程式版本不能為空")
	}

	// 驗證 API 配置
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("API base_url 不能為空")
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("API 超時時間必須大於 0")
	}

	// 驗證即時通道配置
	if cfg.Socket.URL == "" {
		return fmt.Errorf("即時通道 URL 不能為空")
	}

	// 驗證使用者配置
	if cfg.Viewer.UserID == "" {
		return fmt.Errorf("使用者 ID 不能為空")
	}

	// 驗證日誌配置
	if cfg.Log.RotationTimeHours <= 0 {
		return fmt.Errorf("日誌輪轉時間必須大於 0")
	}
	if cfg.Log.MaxAgeDays <= 0 {
		return fmt.Errorf("日誌保留天數必須大於 0")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("日誌檔案最大大小必須大於 0")
	}

	// 驗證捲動閾值（不可為負，底部閾值應小於頂部閾值）
	if cfg.Limits.Scroll.NearBottomPx < 0 || cfg.Limits.Scroll.NearTopPx < 0 {
		return fmt.Errorf("捲動閾值不能為負")
	}

	return nil
}

// IsDebug 檢查是否為除錯模式
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetAPIBaseURL 取得 REST API 端點
func GetAPIBaseURL() string {
	if config != nil {
		return config.API.BaseURL
	}
	return "http://localhost:8080"
}

// GetSocketURL 取得即時通道端點
func GetSocketURL() string {
	if config != nil {
		return config.Socket.URL
	}
	return "ws://localhost:8080/socket"
}

// GetViewerID 取得當前使用者 ID
func GetViewerID() string {
	if config != nil {
		return config.Viewer.UserID
	}
	return ""
}

// GetMongoURL 取得 MongoDB 連接字串（devserver）
func GetMongoURL() string {
	if config != nil {
		return config.Database.Mongo.URL
	}
	return ""
}
