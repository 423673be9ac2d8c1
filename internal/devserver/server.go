package devserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"chat-client/internal/constants"
	"chat-client/internal/httputil"
	apimsg "chat-client/internal/message"
	"chat-client/internal/platform/config"
	storemsg "chat-client/internal/storage/database/message"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	debugFailHeader = "X-Debug-Fail-Status"
	userIDHeader    = "X-User-ID"
)

// Server 本地開發伺服器.
// 模擬客戶端合約的 REST 與即時通道，供端對端演練與測試.
type Server struct {
	store storemsg.MessageRepository
	hub   *Hub

	// 反應計數保存在記憶體，廣播時附帶權威計數
	reactionMu sync.Mutex
	reactions  map[string]map[string]map[string]bool // messageID -> emoji -> userID
}

// NewServer 創建開發伺服器.
func NewServer(store storemsg.MessageRepository, hub *Hub) *Server {
	return &Server{
		store:     store,
		hub:       hub,
		reactions: make(map[string]map[string]map[string]bool),
	}
}

// requestIDMiddleware 為每個請求生成唯一 ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// securityHeadersMiddleware 添加安全標頭.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		c.Next()
	}
}

// Router 設定路由.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.Use(requestIDMiddleware())
	r.Use(securityHeadersMiddleware())

	r.GET("/health", s.healthCheck)

	r.GET("/messages/:room_id", s.getMessages)
	r.POST("/messages", s.sendMessage)
	r.PATCH("/messages/:id/edit", s.editMessage)
	r.DELETE("/messages/:id", s.deleteMessage)
	r.POST("/messages/:id/reactions", s.updateReaction)

	r.GET("/socket", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	return r
}

// healthCheck 健康檢查端點.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "chat-devserver",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// getMessages 分頁獲取聊天室消息（最新在前）.
func (s *Server) getMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, httputil.ErrorMessage(httputil.InvalidParameter))
		return
	}

	cfg := config.Get()
	limit := int64(constants.DefaultPageSize)
	maxLimit := int64(constants.DefaultMaxPageSize)
	if cfg != nil && cfg.Limits.Pagination.MaxPageSize > 0 {
		maxLimit = int64(cfg.Limits.Pagination.MaxPageSize)
	}
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < constants.MinPageSize {
			c.JSON(http.StatusBadRequest, httputil.ErrorMessage(httputil.InvalidParameter))
			return
		}
		limit = parsed
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var cursor *string
	if raw := c.Query("cursor"); raw != "" {
		cursor = &raw
	}

	items, next, err := s.store.ListPage(c.Request.Context(), roomID, limit, cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.ErrorMessage(err.Error()))
		return
	}

	wire := make([]apimsg.Message, 0, len(items))
	for _, m := range items {
		wire = append(wire, s.withReactions(m.ToWire()))
	}

	c.JSON(http.StatusOK, gin.H{
		"items":      wire,
		"nextCursor": next,
	})
}

// sendMessage 創建消息並廣播 receive_message.
// X-Debug-Fail-Status 標頭可注入任意失敗狀態碼，
// 用來演練客戶端的失敗氣泡與重試路徑.
func (s *Server) sendMessage(c *gin.Context) {
	if raw := c.GetHeader(debugFailHeader); raw != "" {
		status, err := strconv.Atoi(raw)
		if err == nil && status >= 400 && status < 600 {
			c.JSON(status, httputil.ErrorMessage("injected failure"))
			return
		}
	}

	var req apimsg.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.ErrorMessage("無效的請求格式"))
		return
	}
	if err := apimsg.ValidateSendRequest(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, httputil.ErrorMessage(err.Error()))
		return
	}

	senderID := c.GetHeader(userIDHeader)
	if senderID == "" {
		senderID = "anonymous"
	}

	now := time.Now().UTC()
	stored := &storemsg.Message{
		ChatRoomID:        req.ChatRoomID,
		SenderID:          senderID,
		Content:           req.Content,
		ContentCiphertext: req.ContentCiphertext,
		EncryptedKeys:     req.EncryptedKeys,
		ClientTag:         req.ClientTag,
		Attachments:       req.AttachmentsInline,
		CreatedAt:         now,
	}
	if req.ExpireSeconds > 0 {
		expireAt := now.Add(time.Duration(req.ExpireSeconds) * time.Second)
		stored.ExpireAt = &expireAt
	}

	if err := s.store.Create(c.Request.Context(), stored); err != nil {
		c.JSON(http.StatusInternalServerError, httputil.ErrorMessage(httputil.ProcessingFailed))
		return
	}

	wire := stored.ToWire()
	s.hub.Broadcast(stored.ChatRoomID, apimsg.WireReceiveMessage, gin.H{
		"roomId":  stored.ChatRoomID,
		"message": wire,
	})

	c.JSON(http.StatusCreated, wire)
}

// editMessage 編輯消息並廣播 message_edited.
func (s *Server) editMessage(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		NewContent string `json:"newContent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.NewContent == "" {
		c.JSON(http.StatusBadRequest, httputil.ErrorMessage("無效的請求格式"))
		return
	}

	updated, err := s.store.Edit(c.Request.Context(), id, req.NewContent)
	if err != nil {
		c.JSON(http.StatusNotFound, httputil.ErrorMessage(httputil.RecordNotFound))
		return
	}

	payload := gin.H{
		"roomId":     updated.ChatRoomID,
		"messageId":  updated.ID,
		"newContent": updated.Content,
	}
	if updated.EditedAt != nil {
		payload["editedAt"] = updated.EditedAt.UTC().Format(time.RFC3339)
	}
	s.hub.Broadcast(updated.ChatRoomID, apimsg.WireMessageEdited, payload)

	c.JSON(http.StatusOK, updated.ToWire())
}

// deleteMessage 刪除消息並廣播 message_deleted.
// mode=all 時存儲層墓碑化；mode=me 時存儲不變，
// 事件對全房間廣播，由各客戶端依 userId 過濾.
func (s *Server) deleteMessage(c *gin.Context) {
	id := c.Param("id")
	mode := c.Query("mode")
	if mode != apimsg.DeleteScopeMe && mode != apimsg.DeleteScopeAll {
		c.JSON(http.StatusBadRequest, httputil.ErrorMessage(httputil.InvalidParameter))
		return
	}

	existing, err := s.store.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, httputil.ErrorMessage(httputil.RecordNotFound))
		return
	}

	if mode == apimsg.DeleteScopeAll {
		if err := s.store.TombstoneAll(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, httputil.ErrorMessage(httputil.ProcessingFailed))
			return
		}
	}

	s.hub.Broadcast(existing.ChatRoomID, apimsg.WireMessageDeleted, gin.H{
		"roomId":    existing.ChatRoomID,
		"messageId": id,
		"scope":     mode,
		"userId":    c.GetHeader(userIDHeader),
	})

	c.JSON(http.StatusOK, httputil.Success("deleted"))
}

// updateReaction 更新反應並廣播帶權威計數的 reaction_updated.
func (s *Server) updateReaction(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Emoji string `json:"emoji"`
		Op    string `json:"op"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Emoji == "" {
		c.JSON(http.StatusBadRequest, httputil.ErrorMessage("無效的請求格式"))
		return
	}
	if req.Op != apimsg.ReactionOpAdded && req.Op != apimsg.ReactionOpRemoved {
		c.JSON(http.StatusBadRequest, httputil.ErrorMessage(httputil.InvalidParameter))
		return
	}

	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		c.JSON(http.StatusBadRequest, httputil.ErrorMessage(httputil.InvalidParameter))
		return
	}

	existing, err := s.store.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, httputil.ErrorMessage(httputil.RecordNotFound))
		return
	}

	count := s.applyReaction(id, req.Emoji, userID, req.Op == apimsg.ReactionOpAdded)

	s.hub.Broadcast(existing.ChatRoomID, apimsg.WireReactionUpdated, gin.H{
		"roomId":    existing.ChatRoomID,
		"messageId": id,
		"emoji":     req.Emoji,
		"op":        req.Op,
		"count":     count,
		"userId":    userID,
	})

	c.JSON(http.StatusOK, gin.H{"emoji": req.Emoji, "count": count})
}

// applyReaction 更新記憶體反應集合並回傳權威計數.
func (s *Server) applyReaction(messageID, emoji, userID string, added bool) int {
	s.reactionMu.Lock()
	defer s.reactionMu.Unlock()

	byEmoji := s.reactions[messageID]
	if byEmoji == nil {
		byEmoji = make(map[string]map[string]bool)
		s.reactions[messageID] = byEmoji
	}
	users := byEmoji[emoji]
	if users == nil {
		users = make(map[string]bool)
		byEmoji[emoji] = users
	}

	if added {
		users[userID] = true
	} else {
		delete(users, userID)
	}
	return len(users)
}

// withReactions 將記憶體反應計數併入分頁回應.
func (s *Server) withReactions(m apimsg.Message) apimsg.Message {
	s.reactionMu.Lock()
	defer s.reactionMu.Unlock()

	byEmoji := s.reactions[m.ID]
	if len(byEmoji) == 0 {
		return m
	}

	m.Reactions = make(map[string]int, len(byEmoji))
	for emoji, users := range byEmoji {
		if len(users) > 0 {
			m.Reactions[emoji] = len(users)
		}
	}
	return m
}
