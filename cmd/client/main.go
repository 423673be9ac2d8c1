package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"chat-client/internal/bridge"
	"chat-client/internal/cache"
	"chat-client/internal/constants"
	"chat-client/internal/history"
	"chat-client/internal/message"
	"chat-client/internal/platform/config"
	"chat-client/internal/platform/logger"
	"chat-client/internal/scroll"
	"chat-client/internal/security/encryption"
	"chat-client/internal/security/keymanager"
	"chat-client/internal/send"
	"chat-client/internal/thread"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// bellNotifier 終端機通知音效.
type bellNotifier struct{}

func (bellNotifier) PlaySound() {
	fmt.Print("\a")
}

// loadIdentity 載入本機金鑰對.
// CHAT_PRIVATE_KEY 環境變數存在時解鎖既有身份，否則生成臨時身份
// （重啟後舊的加密訊息將無法解密）.
func loadIdentity(ctx context.Context, keys *keymanager.KeyStore) error {
	if encoded := os.Getenv("CHAT_PRIVATE_KEY"); encoded != "" {
		if err := keys.Unlock(encoded); err != nil {
			return fmt.Errorf("解鎖金鑰失敗: %w", err)
		}
		logger.Info(ctx, "已從環境變數解鎖身份金鑰")
		return nil
	}

	if _, err := keys.GenerateIdentity(); err != nil {
		return fmt.Errorf("生成金鑰失敗: %w", err)
	}
	logger.Info(ctx, "[WARNING] 開發模式：使用臨時身份金鑰（重啟後舊訊息將無法解密）")
	return nil
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	roomFlag := flag.String("room", "general", "聊天室 ID")
	membersFlag := flag.String("members", "", "聊天室成員（逗號分隔的使用者 ID）")
	flag.Parse()

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
	cfg := config.Get()
	viewerID := config.GetViewerID()

	// 身份金鑰與端對端加密.
	keys := keymanager.NewKeyStore()
	if err := loadIdentity(ctx, keys); err != nil {
		return err
	}
	roomEnc := encryption.NewRoomEncryption(keys)

	// 歷史載入與發送傳輸.
	loader := history.NewLoader(config.GetAPIBaseURL(), cfg.API.Token, viewerID, roomEnc)
	sender := send.NewSender(config.GetAPIBaseURL(), cfg.API.Token, viewerID, cfg.Security.Encryption.Strict, roomEnc)

	// 捲動錨點（終端機宿主沒有渲染幀，schedule 留空走同步路徑）.
	nearBottom := cfg.Limits.Scroll.NearBottomPx
	if nearBottom <= 0 {
		nearBottom = constants.DefaultNearBottomPx
	}
	nearTop := cfg.Limits.Scroll.NearTopPx
	if nearTop <= 0 {
		nearTop = constants.DefaultNearTopPx
	}
	anchor := scroll.NewAnchor(nearBottom, nearTop, nil)

	// 本地快取協作者（只寫不讀）.
	var cacheWriter thread.CacheWriter
	if cfg.Cache.Enabled {
		writer := cache.NewWriter(cfg.Cache)
		defer writer.Close()
		cacheWriter = writer
	}

	pageSize := cfg.Limits.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}

	// 橋與協調器互相引用：橋的 handler 經互斥鎖延後取用協調器
	// （連線後、協調器建立前到達的封包直接丟棄）.
	var (
		controllerMu sync.Mutex
		controller   *thread.Controller
	)
	b, err := bridge.Dial(ctx, config.GetSocketURL(), cfg.API.Token, func(data []byte) {
		controllerMu.Lock()
		c := controller
		controllerMu.Unlock()
		if c != nil {
			c.HandleFrame(data)
		}
	})
	if err != nil {
		return fmt.Errorf("連接即時通道失敗: %w", err)
	}
	defer b.Close()

	controllerMu.Lock()
	controller = thread.NewController(viewerID, loader, sender, b, roomEnc, bellNotifier{}, cacheWriter, anchor, pageSize)
	controllerMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go controller.Run(runCtx)

	participants := []string{viewerID}
	if *membersFlag != "" {
		for _, member := range strings.Split(*membersFlag, ",") {
			if member = strings.TrimSpace(member); member != "" && member != viewerID {
				participants = append(participants, member)
			}
		}
	}

	controller.OpenRoom(*roomFlag, participants)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go repl(ctx, controller, sender, b, viewerID, quit)

	<-quit
	logger.Info(ctx, "正在關閉客戶端...", logger.WithAction("shutdown"))
	return nil
}

// repl 讀取標準輸入並派發命令.
func repl(ctx context.Context, controller *thread.Controller, sender *send.Sender, b *bridge.Bridge, viewerID string, quit chan<- os.Signal) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			quit <- syscall.SIGTERM
			return

		case "/list":
			printSnapshot(controller.Snapshot(), viewerID)

		case "/older":
			controller.LoadOlder()

		case "/banner":
			controller.DismissBanner()

		case "/retry":
			if len(fields) == 2 {
				controller.Retry(fields[1])
			}

		case "/edit":
			if len(fields) >= 3 {
				if _, err := sender.Edit(ctx, fields[1], strings.Join(fields[2:], " ")); err != nil {
					fmt.Printf("編輯失敗: %v\n", err)
				}
			}

		case "/del":
			if len(fields) == 3 {
				if err := sender.Delete(ctx, fields[1], fields[2]); err != nil {
					fmt.Printf("刪除失敗: %v\n", err)
				}
			}

		case "/typing":
			snap := controller.Snapshot()
			if err := b.Emit(message.WireUserTyping, map[string]string{"roomId": snap.RoomID, "userId": viewerID}); err != nil {
				fmt.Printf("輸入指示送出失敗: %v\n", err)
			}

		default:
			controller.Send(line, nil, 0)
		}

		fmt.Print("> ")
	}
}

// printSnapshot 渲染視圖快照.
func printSnapshot(snap thread.Snapshot, viewerID string) {
	fmt.Printf("--- %s（%d 則，更多歷史: %v）---\n", snap.RoomID, len(snap.Messages), snap.HasMore)
	for _, m := range snap.Messages {
		marker := " "
		switch {
		case m.Failed:
			marker = "!"
		case m.Pending:
			marker = "…"
		case m.SenderID == viewerID:
			marker = "*"
		}

		content := m.Content
		if m.DeletedForAll {
			content = "（此訊息已刪除）"
		}

		fmt.Printf("%s [%s] %s: %s", marker, m.ID, m.SenderID, content)
		if m.EditedAt != nil {
			fmt.Print(" (已編輯)")
		}
		if len(m.Reactions) > 0 {
			fmt.Printf(" %v", m.Reactions)
		}
		if len(m.ReadBy) > 0 {
			fmt.Printf(" 已讀:%d", len(m.ReadBy))
		}
		fmt.Println()
	}
	if snap.ShowNewBanner {
		fmt.Println("［有新訊息 — /banner 跳至底部］")
	}
	for _, user := range snap.TypingUsers {
		fmt.Printf("%s 正在輸入…\n", user)
	}
	if snap.LastError != "" {
		fmt.Printf("錯誤: %s\n", snap.LastError)
	}
}
