package scroll

import "chat-client/internal/constants"

// Viewport 捲動視窗的量測值（像素）.
type Viewport struct {
	ScrollTop    int
	ScrollHeight int
	ClientHeight int
}

// Anchor 捲動錨點管理器.
// 回填插入舊頁時保持視覺位置不動；觀看者已在底部時新訊息靜默自動捲到底.
// 兩個閾值刻意不對稱：底部閾值收緊（幾乎貼底才自動捲動），
// 頂部閾值放寬（在碰到絕對頂端之前就開始抓取，掩蓋網路延遲）.
// 狀態由 controller 的序列化迴圈獨占存取，不需要鎖.
type Anchor struct {
	view         Viewport
	nearBottomPx int
	nearTopPx    int

	// schedule 將動作排到下一影格執行，避免版面抖動.
	schedule func(func())

	// OnScroll 捲動指令的輸出端（UI 層掛上實際的捲動行為）.
	OnScroll func(scrollTop int, smooth bool)
}

// NewAnchor 創建捲動錨點管理器.
// schedule 為 nil 時立即執行（無影格概念的宿主，例如測試與終端機 UI）.
func NewAnchor(nearBottomPx, nearTopPx int, schedule func(func())) *Anchor {
	if nearBottomPx <= 0 {
		nearBottomPx = constants.DefaultNearBottomPx
	}
	if nearTopPx <= 0 {
		nearTopPx = constants.DefaultNearTopPx
	}
	if schedule == nil {
		schedule = func(f func()) { f() }
	}
	return &Anchor{
		view:         Viewport{},
		nearBottomPx: nearBottomPx,
		nearTopPx:    nearTopPx,
		schedule:     schedule,
	}
}

// SetViewport 更新視窗量測值（UI 層在捲動或版面變動後回報）.
func (a *Anchor) SetViewport(v Viewport) {
	a.view = v
}

// Viewport 取得當前視窗量測值.
func (a *Anchor) Viewport() Viewport {
	return a.view
}

// NearBottom 檢查觀看者是否貼近底部.
// 定義: scrollTop + clientHeight >= scrollHeight - 閾值.
func (a *Anchor) NearBottom() bool {
	return a.view.ScrollTop+a.view.ClientHeight >= a.view.ScrollHeight-a.nearBottomPx
}

// NearTop 檢查觀看者是否接近頂部（觸發回填）.
// 定義: scrollTop <= 閾值.
func (a *Anchor) NearTop() bool {
	return a.view.ScrollTop <= a.nearTopPx
}

// ScrollToBottom 捲動到底部.
func (a *Anchor) ScrollToBottom(smooth bool) {
	target := a.view.ScrollHeight - a.view.ClientHeight
	if target < 0 {
		target = 0
	}
	a.view.ScrollTop = target
	if a.OnScroll != nil {
		a.OnScroll(target, smooth)
	}
}

// PreserveOffsetAcrossPrepend 在前插舊頁時保持視覺偏移.
// 在變更前記錄 scrollHeight，action 執行內容變更（並以 SetViewport 回報
// 新的 scrollHeight），新位置 = 新高度 - 舊高度 + 舊 scrollTop，
// 排到下一影格套用.
func (a *Anchor) PreserveOffsetAcrossPrepend(action func()) {
	prevHeight := a.view.ScrollHeight
	prevTop := a.view.ScrollTop

	action()

	a.schedule(func() {
		target := a.view.ScrollHeight - prevHeight + prevTop
		if target < 0 {
			target = 0
		}
		a.view.ScrollTop = target
		if a.OnScroll != nil {
			a.OnScroll(target, false)
		}
	})
}
