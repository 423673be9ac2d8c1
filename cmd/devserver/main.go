package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-client/internal/devserver"
	"chat-client/internal/platform/config"
	"chat-client/internal/platform/driver"
	"chat-client/internal/platform/logger"
	storemsg "chat-client/internal/storage/database/message"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}

	// 連接資料庫.
	if err := driver.ConnectMongo(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	db := driver.GetMongoDatabase()
	if err := storemsg.CreateIndexes(ctx, db); err != nil {
		return fmt.Errorf("創建索引失敗: %w", err)
	}

	store := storemsg.NewMessageStore(db)
	hub := devserver.NewHub()
	srv := devserver.NewServer(store, hub)

	// TTL 驅逐迴圈.
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go srv.RunSweeper(sweepCtx)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof(ctx, "開發伺服器啟動於 :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf(ctx, "HTTP 服務器啟動失敗: %v", err)
		}
	}()

	// 等待中斷信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "正在關閉服務器...", logger.WithAction("shutdown"))

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
