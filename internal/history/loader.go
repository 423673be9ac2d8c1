package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"chat-client/internal/constants"
	"chat-client/internal/httputil"
	"chat-client/internal/message"
	"chat-client/internal/platform/logger"
)

// Decryptor 解密協作者（外部擁有的合約）.
// 單則訊息解密失敗不得中止整頁：失敗的條目以無法解密標記降級渲染.
type Decryptor interface {
	DecryptFetched(items []message.Message, viewerID string) []message.Message
}

// Page 一頁歷史訊息.
// Items 已反轉為遞增順序（最舊在前）；後端回應為最新在前.
// NextCursor 為不透明分頁標記，耗盡時為 nil.
type Page struct {
	Items      []message.Message
	NextCursor *string
}

// pageResponse 後端歷史端點的回應格式.
type pageResponse struct {
	Items      []message.Message `json:"items"`
	NextCursor *string           `json:"nextCursor"`
}

// Loader 歷史載入器.
// 以游標向 REST 端點抓取分頁歷史，解密正規化後交給 controller 合併.
type Loader struct {
	baseURL   string
	token     string
	client    *http.Client
	decryptor Decryptor
	viewerID  string

	// loading 抓取中的互斥旗標：抓取未完成前抑制第二個回填請求，
	// 避免游標競速.（只是旗標，不是佇列）
	loading atomic.Bool
}

// NewLoader 創建歷史載入器.
func NewLoader(baseURL, token, viewerID string, decryptor Decryptor) *Loader {
	return &Loader{
		baseURL:   baseURL,
		token:     token,
		viewerID:  viewerID,
		decryptor: decryptor,
		client: &http.Client{
			Timeout: constants.DefaultRequestTimeout * time.Second,
		},
	}
}

// Loading 檢查是否有抓取進行中.
func (l *Loader) Loading() bool {
	return l.loading.Load()
}

// TryBegin 嘗試取得抓取權；已有抓取進行中時回傳 false（呼叫端直接放棄）.
func (l *Loader) TryBegin() bool {
	return l.loading.CompareAndSwap(false, true)
}

// End 釋放抓取權.
func (l *Loader) End() {
	l.loading.Store(false)
}

// LoadPage 抓取一頁歷史.
// cursor 為 nil 表示初始頁；非初始頁帶上前一回應的 nextCursor.
// 回傳的 Items 已反轉為遞增順序.
func (l *Loader) LoadPage(ctx context.Context, roomID string, cursor *string, pageSize int) (*Page, error) {
	if pageSize < constants.MinPageSize {
		pageSize = constants.DefaultPageSize
	}

	endpoint := fmt.Sprintf("%s/messages/%s", l.baseURL, url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}

	q := req.URL.Query()
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != nil {
		q.Set("cursor", *cursor)
	}
	req.URL.RawQuery = q.Encode()

	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: history endpoint returned %d", httputil.ErrNetwork, resp.StatusCode)
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", httputil.ErrNetwork, err)
	}

	items := body.Items
	if l.decryptor != nil {
		// 部分失敗容忍：個別訊息解密失敗仍保留該則（降級渲染），不中止整頁
		items = l.decryptor.DecryptFetched(items, l.viewerID)
	}

	// 後端為最新在前，反轉為遞增順序再交給時間線
	reversed := make([]message.Message, len(items))
	for i, m := range items {
		reversed[len(items)-1-i] = m
	}

	logger.Debug(ctx, "歷史分頁載入完成",
		logger.WithRoomID(roomID),
		logger.WithDetails(map[string]interface{}{
			"count":       len(reversed),
			"has_next":    body.NextCursor != nil,
			"was_initial": cursor == nil,
		}))

	return &Page{Items: reversed, NextCursor: body.NextCursor}, nil
}
