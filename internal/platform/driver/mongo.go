package driver

import (
	"context"
	"fmt"
	"os"
	"time"

	"chat-client/internal/platform/config"
	"chat-client/internal/platform/logger"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var mongoClient *mongo.Client
var mongoDB *mongo.Database

// ConnectMongo 連接 MongoDB（devserver 使用）.
func ConnectMongo() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("配置未載入")
	}

	return InitMongo(cfg.Database.Mongo)
}

// InitMongo 初始化 MongoDB 連接.
func InitMongo(cfg config.MongoConfig) error {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(connectTimeout)*time.Second)
	defer cancel()

	// 從環境變量讀取認證信息
	mongoUsername := os.Getenv("MONGO_USERNAME")
	mongoPassword := os.Getenv("MONGO_PASSWORD")

	// 如果配置文件中有值，使用配置文件（向後兼容）
	if cfg.Username != "" {
		mongoUsername = cfg.Username
	}
	if cfg.Password != "" {
		mongoPassword = cfg.Password
	}

	clientOptions := options.Client().ApplyURI(cfg.URL)

	if mongoUsername != "" && mongoPassword != "" {
		clientOptions.SetAuth(options.Credential{
			Username: mongoUsername,
			Password: mongoPassword,
		})
	}

	if cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.MaxConnIdleTime > 0 {
		clientOptions.SetMaxConnIdleTime(time.Duration(cfg.MaxConnIdleTime) * time.Second)
	}

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return fmt.Errorf("連接 MongoDB 失敗: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("MongoDB ping 失敗: %w", err)
	}

	mongoClient = client
	mongoDB = client.Database(cfg.Database)

	logger.Infof(context.Background(), "MongoDB 連接成功: %s", cfg.Database)
	return nil
}

// GetMongoDatabase 取得資料庫實例.
func GetMongoDatabase() *mongo.Database {
	return mongoDB
}

// CloseMongo 關閉 MongoDB 連接.
func CloseMongo() error {
	if mongoClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return mongoClient.Disconnect(ctx)
}
