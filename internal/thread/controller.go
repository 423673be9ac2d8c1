package thread

import (
	"context"
	"time"

	"chat-client/internal/constants"
	"chat-client/internal/history"
	"chat-client/internal/httputil"
	"chat-client/internal/message"
	"chat-client/internal/platform/logger"
	"chat-client/internal/scroll"
)

// PageLoader 歷史載入器合約.
type PageLoader interface {
	TryBegin() bool
	End()
	LoadPage(ctx context.Context, roomID string, cursor *string, pageSize int) (*history.Page, error)
}

// MessageSender 發送傳輸層合約.
type MessageSender interface {
	BuildRequest(roomID, text string, attachments []message.Attachment, ttlSeconds int, participants []string, clientTag string) (*message.SendRequest, error)
	Post(ctx context.Context, req *message.SendRequest) (*message.Message, error)
}

// EventBridge 即時通道合約.
type EventBridge interface {
	Join(roomID string) error
	Leave(roomID string) error
	Emit(event string, payload interface{}) error
}

// Decryptor 解密協作者合約（即時訊息用，單則失敗僅記錄不阻斷）.
type Decryptor interface {
	DecryptFetched(items []message.Message, viewerID string) []message.Message
}

// Notifier 通知音效輸出端.
type Notifier interface {
	PlaySound()
}

// CacheWriter 本地快取協作者（只寫不讀，供外部搜尋/媒體索引）.
type CacheWriter interface {
	IndexMessage(ctx context.Context, m message.Message) error
}

// Snapshot 渲染用的視圖快照.
type Snapshot struct {
	RoomID        string
	Messages      []message.Message
	HasMore       bool
	ShowNewBanner bool
	TypingUsers   []string
	LastError     string
}

// pendingSend 保留失敗氣泡的原始 payload 供重試.
type pendingSend struct {
	req *message.SendRequest
}

// Controller 聊天串視圖的協調器.
// 歷史載入器與即時事件橋都寫入同一條時間線；所有變更以純函數更新的形式
// 送進單一序列化通道，由一個 goroutine 依序套用，避免重疊 tick 的更新遺失.
// 房間切換以世代計數器守門：每個非同步延續攜帶發起時的世代，
// 套用前比對當前世代，不符即丟棄（被放棄房間的在途請求自然失效）.
type Controller struct {
	viewerID string

	loader    PageLoader
	sender    MessageSender
	bridge    EventBridge
	decryptor Decryptor
	notifier  Notifier
	cache     CacheWriter
	anchor    *scroll.Anchor

	pageSize int

	tasks chan func()

	// 以下狀態只由 Run 迴圈觸碰
	epoch        int
	roomID       string
	participants []string
	timeline     Timeline
	cursor       *string
	hasMore      bool
	showBanner   bool
	tabHidden    bool
	typing       map[string]time.Time
	pending      map[string]pendingSend // tempID -> 原始 payload
	lastError    string
}

// NewController 創建聊天串協調器.
func NewController(viewerID string, loader PageLoader, sender MessageSender, bridge EventBridge, decryptor Decryptor, notifier Notifier, cache CacheWriter, anchor *scroll.Anchor, pageSize int) *Controller {
	if pageSize < constants.MinPageSize {
		pageSize = constants.DefaultPageSize
	}
	return &Controller{
		viewerID:  viewerID,
		loader:    loader,
		sender:    sender,
		bridge:    bridge,
		decryptor: decryptor,
		notifier:  notifier,
		cache:     cache,
		anchor:    anchor,
		pageSize:  pageSize,
		tasks:     make(chan func(), constants.MessageChannelBuffer),
		typing:    make(map[string]time.Time),
		pending:   make(map[string]pendingSend),
	}
}

// Run 啟動序列化套用迴圈（阻塞直到 ctx 取消）.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-c.tasks:
			task()
		}
	}
}

// post 將變更排入序列化通道.
func (c *Controller) post(task func()) {
	c.tasks <- task
}

// Snapshot 取得當前視圖快照（同步往返，確保讀到迴圈內的一致狀態）.
func (c *Controller) Snapshot() Snapshot {
	out := make(chan Snapshot, 1)
	c.post(func() {
		msgs := make([]message.Message, len(c.timeline))
		for i := range c.timeline {
			msgs[i] = c.timeline[i].Clone()
		}

		cutoff := time.Now().Add(-constants.DefaultTypingTimeoutSeconds * time.Second)
		var typing []string
		for user, at := range c.typing {
			if at.After(cutoff) {
				typing = append(typing, user)
			} else {
				delete(c.typing, user)
			}
		}

		out <- Snapshot{
			RoomID:        c.roomID,
			Messages:      msgs,
			HasMore:       c.hasMore,
			ShowNewBanner: c.showBanner,
			TypingUsers:   typing,
			LastError:     c.lastError,
		}
	})
	return <-out
}

// SetTabHidden 回報分頁可見性（通知音效判斷用）.
func (c *Controller) SetTabHidden(hidden bool) {
	c.post(func() { c.tabHidden = hidden })
}

// OpenRoom 進入聊天室.
// 世代計數器遞增，前一房間送出 leave，狀態清空後發出初始分頁請求，
// 再加入即時通道（先請求再加入；兩者的到達順序交由去重不變量吸收）.
func (c *Controller) OpenRoom(roomID string, participants []string) {
	c.post(func() {
		if c.roomID != "" && c.bridge != nil {
			if err := c.bridge.Leave(c.roomID); err != nil {
				logger.Warningf(context.Background(), "離開聊天室失敗: %v", err)
			}
		}

		c.epoch++
		ep := c.epoch
		c.roomID = roomID
		c.participants = append([]string(nil), participants...)
		c.timeline = nil
		c.cursor = nil
		c.hasMore = false
		c.showBanner = false
		c.lastError = ""
		c.typing = make(map[string]time.Time)
		c.pending = make(map[string]pendingSend)

		c.fetchInitial(ep, roomID)

		if c.bridge != nil {
			go func() {
				if err := c.bridge.Join(roomID); err != nil {
					logger.Errorf(context.Background(), "加入聊天室失敗: %v", err)
				}
			}()
		}
	})
}

// fetchInitial 發出初始分頁請求（在迴圈內呼叫）.
// 前一房間的在途請求尚未釋放抓取權時，稍後重試（結果由世代守門丟棄，
// 但旗標要等它返回才會釋放）.
func (c *Controller) fetchInitial(ep int, roomID string) {
	if !c.loader.TryBegin() {
		go func() {
			time.Sleep(10 * time.Millisecond)
			c.post(func() {
				if ep == c.epoch {
					c.fetchInitial(ep, roomID)
				}
			})
		}()
		return
	}
	go func() {
		ctx := logger.WithTraceID(context.Background(), logger.NewTraceID())
		page, err := c.loader.LoadPage(ctx, roomID, nil, c.pageSize)
		c.loader.End()

		c.post(func() {
			if ep != c.epoch {
				return // 房間已切換，丟棄過期結果
			}
			if err != nil {
				logger.Error(ctx, "初始分頁載入失敗", logger.WithRoomID(roomID))
				c.lastError = "無法載入歷史訊息"
				return
			}
			// 初始頁：清空重建，排程跳到底部
			c.timeline = c.timeline.ReplaceAll(page.Items)
			c.cursor = page.NextCursor
			c.hasMore = page.NextCursor != nil
			c.lastError = ""
			if c.anchor != nil {
				c.anchor.ScrollToBottom(false)
			}
		})
	}()
}

// OnViewportChange 回報捲動視窗變化.
// 接近頂部觸發回填；回到底部清除新訊息橫幅並送出已讀回執.
func (c *Controller) OnViewportChange(v scroll.Viewport) {
	c.post(func() {
		if c.anchor != nil {
			c.anchor.SetViewport(v)
			if c.anchor.NearTop() {
				c.loadOlder()
			}
			if c.anchor.NearBottom() {
				c.showBanner = false
				c.emitReadForLatest()
			}
		}
	})
}

// LoadOlder 手動觸發回填（測試與無捲動宿主用）.
func (c *Controller) LoadOlder() {
	c.post(func() { c.loadOlder() })
}

// loadOlder 發出回填請求（在迴圈內呼叫）.
// 游標耗盡（nil）或已有抓取進行中時直接放棄，不排隊.
func (c *Controller) loadOlder() {
	if c.cursor == nil {
		return
	}
	if !c.loader.TryBegin() {
		return
	}

	ep := c.epoch
	roomID := c.roomID
	cursor := c.cursor

	go func() {
		ctx := logger.WithTraceID(context.Background(), logger.NewTraceID())
		page, err := c.loader.LoadPage(ctx, roomID, cursor, c.pageSize)
		c.loader.End()

		c.post(func() {
			if ep != c.epoch {
				return
			}
			if err != nil {
				// 回填失敗只記錄，列表保持原狀，使用者再捲一次即可重試
				logger.Error(ctx, "回填分頁載入失敗", logger.WithRoomID(roomID))
				return
			}
			apply := func() {
				c.timeline = c.timeline.Prepend(page.Items)
			}
			if c.anchor != nil {
				c.anchor.PreserveOffsetAcrossPrepend(apply)
			} else {
				apply()
			}
			c.cursor = page.NextCursor
			c.hasMore = page.NextCursor != nil
		})
	}()
}

// HandleFrame 處理即時通道送來的原始封包（橋的讀取迴圈呼叫）.
// 解碼失敗只記錄後忽略；解碼成功的事件進入序列化通道套用.
func (c *Controller) HandleFrame(data []byte) {
	ev, err := message.DecodeFrame(data)
	if err != nil {
		logger.Warningf(context.Background(), "忽略無法解析的事件: %v", err)
		return
	}
	c.post(func() { c.applyEvent(ev) })
}

// applyEvent 套用正規化事件（在迴圈內呼叫）.
func (c *Controller) applyEvent(ev *message.Event) {
	// 跨房事件一律丟棄（廣播與單播差異由此吸收）
	if ev.RoomID != "" && ev.RoomID != c.roomID {
		return
	}

	ctx := context.Background()

	switch ev.Type {
	case message.EventReceiveMessage:
		c.applyReceive(ctx, ev)

	case message.EventMessageEdited:
		c.timeline = c.timeline.ApplyEdit(ev.MessageID, ev.NewContent, ev.NewRawContent, ev.EditedAt)

	case message.EventMessageDeleted:
		c.timeline = c.timeline.ApplyDelete(ev.MessageID, ev.Scope, ev.UserID, c.viewerID)

	case message.EventMessageExpired:
		c.timeline = c.timeline.ApplyExpire(ev.MessageID)

	case message.EventReactionUpdated:
		c.timeline = c.timeline.ApplyReaction(ev.MessageID, ev.Emoji, ev.Op, ev.Count, ev.ActorID, c.viewerID)

	case message.EventMessageRead:
		c.timeline = c.timeline.ApplyRead(ev.MessageID, ev.ReaderID, c.viewerID)

	case message.EventUserTyping:
		if ev.UserID != "" && ev.UserID != c.viewerID {
			c.typing[ev.UserID] = time.Now()
		}

	case message.EventUserStoppedTyping:
		delete(c.typing, ev.UserID)
	}
}

// applyReceive 套用即時收到的訊息並執行視圖策略.
// 解密失敗不丟棄：以原始欄位盡力渲染，只記錄失敗.
func (c *Controller) applyReceive(ctx context.Context, ev *message.Event) {
	m := *ev.Message
	if c.decryptor != nil {
		decrypted := c.decryptor.DecryptFetched([]message.Message{m}, c.viewerID)
		if len(decrypted) == 1 {
			m = decrypted[0]
		}
	}

	c.timeline = c.timeline.Upsert(m)
	if m.ClientTag != "" {
		delete(c.pending, m.ClientTag)
	}

	if c.cache != nil {
		go func(m message.Message) {
			if err := c.cache.IndexMessage(context.Background(), m); err != nil {
				logger.Warningf(context.Background(), "快取索引寫入失敗: %v", err)
			}
		}(m.Clone())
	}

	own := m.SenderID == c.viewerID
	atBottom := c.anchor != nil && c.anchor.NearBottom()

	// 音效：非本人訊息且（不在底部或分頁隱藏）
	if !own && (!atBottom || c.tabHidden) && c.notifier != nil {
		c.notifier.PlaySound()
	}

	if atBottom {
		// 已在底部：靜默自動捲到底，順帶回報已讀
		if c.anchor != nil {
			c.anchor.ScrollToBottom(true)
		}
		if !own && !c.tabHidden {
			c.emitRead(m.ID)
		}
	} else if !own {
		c.showBanner = true
	}

	logger.Debug(ctx, "收到即時訊息",
		logger.WithRoomID(c.roomID),
		logger.WithMessageID(m.ID),
		logger.WithEvent(message.WireReceiveMessage))
}

// emitReadForLatest 對最後一則非本人訊息送出已讀回執.
func (c *Controller) emitReadForLatest() {
	for i := len(c.timeline) - 1; i >= 0; i-- {
		m := c.timeline[i]
		if m.SenderID == c.viewerID || m.IsTemp() {
			continue
		}
		c.emitRead(m.ID)
		return
	}
}

// emitRead 送出已讀回執（失敗只記錄）.
func (c *Controller) emitRead(messageID string) {
	if c.bridge == nil {
		return
	}
	payload := map[string]string{
		"roomId":    c.roomID,
		"messageId": messageID,
		"userId":    c.viewerID,
	}
	go func() {
		if err := c.bridge.Emit(message.WireMessageRead, payload); err != nil {
			logger.Warningf(context.Background(), "已讀回執送出失敗: %v", err)
		}
	}()
}

// Send 樂觀發送.
// 呼叫端視角是 fire-and-forget：回饋全部經由列表變更呈現.
// 先追加 pending 氣泡；HTTP 成功不主動插入（伺服器會經橋回播，對賬標記
// 替換 pending 條目）；HTTP 失敗將氣泡標記為 failed 供逐則重試.
func (c *Controller) Send(text string, attachments []message.Attachment, ttlSeconds int) {
	c.post(func() {
		ep := c.epoch
		now := time.Now()
		tempID := message.NewTempID(now)
		clientTag := tempID

		req, err := c.sender.BuildRequest(c.roomID, text, attachments, ttlSeconds, c.participants, clientTag)
		if err != nil {
			// 加密/驗證失敗：本地中止，不觸網，以阻斷式行內錯誤呈現
			c.lastError = httputil.UserMessage(err)
			logger.Error(context.Background(), "發送前置失敗", logger.WithRoomID(c.roomID))
			return
		}

		pendingMsg := message.Message{
			ID:            tempID,
			ChatRoomID:    c.roomID,
			SenderID:      c.viewerID,
			Content:       text,
			ClientTag:     clientTag,
			CreatedAt:     now,
			ExpireSeconds: ttlSeconds,
			Attachments:   attachments,
		}
		c.timeline = c.timeline.AppendPending(pendingMsg)
		c.pending[tempID] = pendingSend{req: req}
		c.lastError = ""
		if c.anchor != nil {
			c.anchor.ScrollToBottom(true)
		}

		c.postSend(ep, tempID, req)
	})
}

// postSend 執行 HTTP 發送（在迴圈內呼叫，往返在 goroutine）.
func (c *Controller) postSend(ep int, tempID string, req *message.SendRequest) {
	go func() {
		ctx := logger.WithTraceID(context.Background(), logger.NewTraceID())
		_, err := c.sender.Post(ctx, req)

		c.post(func() {
			if ep != c.epoch {
				return
			}
			if err != nil {
				c.timeline = c.timeline.MarkFailed(tempID)
				c.lastError = httputil.UserMessage(err)
				return
			}
			// 成功路徑交由伺服器回播替換 pending 條目
		})
	}()
}

// Retry 重試指定的失敗氣泡.
// 以原始 payload 原樣重送；成功後原地替換暫時 ID，列表位置不變.
func (c *Controller) Retry(tempID string) {
	c.post(func() {
		entry, ok := c.pending[tempID]
		if !ok {
			return
		}
		ep := c.epoch

		go func() {
			ctx := logger.WithTraceID(context.Background(), logger.NewTraceID())
			confirmed, err := c.sender.Post(ctx, entry.req)

			c.post(func() {
				if ep != c.epoch {
					return
				}
				if err != nil {
					c.timeline = c.timeline.MarkFailed(tempID)
					c.lastError = httputil.UserMessage(err)
					return
				}
				c.timeline = c.timeline.ReplaceByID(tempID, *confirmed)
				delete(c.pending, tempID)
				c.lastError = ""
			})
		}()
	})
}

// DismissBanner 使用者點擊新訊息橫幅：捲到底並清除橫幅.
func (c *Controller) DismissBanner() {
	c.post(func() {
		c.showBanner = false
		if c.anchor != nil {
			c.anchor.ScrollToBottom(true)
		}
		c.emitReadForLatest()
	})
}
