package thread

import (
	"sort"
	"time"

	"chat-client/internal/message"
)

// Timeline 單一聊天室的有序訊息列表.
// 維護兩條不變量：
//   - 每個訊息 ID 恰好一個條目（分頁回應與即時事件到達順序不保證，合併時去重）
//   - 依 CreatedAt / 到達順序遞增排列（最舊在前），後端分頁回應為最新在前，
//     進入時間線前須反轉
//
// 所有變更都是純函數：回傳新的 Timeline，不修改舊快照.
// 多個非同步回呼（分頁回應與即時事件）在重疊的 tick 解析時，
// 由 controller 的單一序列化通道套用，避免更新遺失.
type Timeline []message.Message

// indexOf 依 ID 尋找訊息位置，找不到回傳 -1.
func (t Timeline) indexOf(id string) int {
	for i := range t {
		if t[i].ID == id {
			return i
		}
	}
	return -1
}

// indexOfClientTag 依對賬標記尋找 pending 訊息位置.
func (t Timeline) indexOfClientTag(tag string) int {
	if tag == "" {
		return -1
	}
	for i := range t {
		if t[i].ClientTag == tag && t[i].IsTemp() {
			return i
		}
	}
	return -1
}

// Get 依 ID 取得訊息副本.
func (t Timeline) Get(id string) (message.Message, bool) {
	i := t.indexOf(id)
	if i < 0 {
		return message.Message{}, false
	}
	return t[i].Clone(), true
}

// clone 複製整條時間線.
func (t Timeline) clone() Timeline {
	out := make(Timeline, len(t))
	for i := range t {
		out[i] = t[i].Clone()
	}
	return out
}

// ReplaceAll 以初始分頁取代全部內容.
// items 須已是遞增順序（載入器負責反轉）；內部再去重一次以防伺服器重複.
func (t Timeline) ReplaceAll(items []message.Message) Timeline {
	out := make(Timeline, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, m := range items {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m.Clone())
	}
	return out
}

// Prepend 將更舊的一頁插到開頭（回填）.
// 已存在的 ID 略過，維持每 ID 一個條目.
func (t Timeline) Prepend(items []message.Message) Timeline {
	existing := make(map[string]bool, len(t))
	for i := range t {
		existing[t[i].ID] = true
	}

	head := make(Timeline, 0, len(items))
	for _, m := range items {
		if existing[m.ID] {
			continue
		}
		existing[m.ID] = true
		head = append(head, m.Clone())
	}

	return append(head, t.clone()...)
}

// Upsert 即時收到訊息：追加到尾端.
// 若同一對賬標記的 pending 條目已存在，原地替換（樂觀發送的伺服器回播）；
// 若同 ID 已存在（初始分頁與即時事件競速），原地替換而非重複追加.
func (t Timeline) Upsert(m message.Message) Timeline {
	if i := t.indexOfClientTag(m.ClientTag); i >= 0 {
		out := t.clone()
		out[i] = m.Clone()
		return out
	}
	if i := t.indexOf(m.ID); i >= 0 {
		out := t.clone()
		out[i] = m.Clone()
		return out
	}
	return append(t.clone(), m.Clone())
}

// ApplyEdit 原地替換內容與編輯時間.
// ID 不在載入窗格內時為 no-op（訊息可能已捲出窗格，屬可接受損失）.
// 冪等：重複套用同一事件結果相同.
func (t Timeline) ApplyEdit(id, content, rawContent string, editedAt *time.Time) Timeline {
	i := t.indexOf(id)
	if i < 0 {
		return t
	}
	out := t.clone()
	out[i].Content = content
	if rawContent != "" {
		out[i].RawContent = rawContent
	}
	if editedAt != nil {
		ts := *editedAt
		out[i].EditedAt = &ts
	}
	return out
}

// ApplyDelete 套用刪除事件.
// scope=me：僅當事件目標是本地使用者時從列表移除；目標是其他使用者的
// 廣播事件一律忽略（客戶端過濾視為安全要求，非冗餘）.
// scope=all：原地墓碑化，保留 ID 與 CreatedAt 維持版面穩定，不移除.
func (t Timeline) ApplyDelete(id, scope, targetUserID, viewerID string) Timeline {
	i := t.indexOf(id)
	if i < 0 {
		return t
	}

	switch scope {
	case message.DeleteScopeMe:
		if targetUserID != viewerID {
			return t
		}
		out := t.clone()
		return append(out[:i], out[i+1:]...)

	case message.DeleteScopeAll:
		out := t.clone()
		out[i] = out[i].Tombstone()
		return out
	}

	return t
}

// ApplyExpire 無條件依 ID 移除（伺服器 TTL 驅逐）.
// ID 已不存在時為 no-op.
func (t Timeline) ApplyExpire(id string) Timeline {
	i := t.indexOf(id)
	if i < 0 {
		return t
	}
	out := t.clone()
	return append(out[:i], out[i+1:]...)
}

// ApplyReaction 套用反應更新.
// 權威 count 欄位存在時一律以其為準；否則依 op 對本地計數加減一，
// 減到 0 以下時夾緊為 0（計數歸零即從 map 移除）.
// 操作者是本地使用者時同步維護 MyReactions 切換狀態.
func (t Timeline) ApplyReaction(id, emoji, op string, count *int, actorID, viewerID string) Timeline {
	i := t.indexOf(id)
	if i < 0 {
		return t
	}

	out := t.clone()
	m := &out[i]

	next := 0
	if count != nil {
		next = *count
	} else {
		prev := 0
		if m.Reactions != nil {
			prev = m.Reactions[emoji]
		}
		switch op {
		case message.ReactionOpAdded:
			next = prev + 1
		case message.ReactionOpRemoved:
			next = prev - 1
		default:
			return t
		}
	}
	if next < 0 {
		next = 0
	}

	if next == 0 {
		if m.Reactions != nil {
			delete(m.Reactions, emoji)
			if len(m.Reactions) == 0 {
				m.Reactions = nil
			}
		}
	} else {
		if m.Reactions == nil {
			m.Reactions = make(map[string]int)
		}
		m.Reactions[emoji] = next
	}

	if actorID == viewerID {
		switch op {
		case message.ReactionOpAdded:
			if m.MyReactions == nil {
				m.MyReactions = make(map[string]bool)
			}
			m.MyReactions[emoji] = true
		case message.ReactionOpRemoved:
			delete(m.MyReactions, emoji)
			if len(m.MyReactions) == 0 {
				m.MyReactions = nil
			}
		}
	}

	return out
}

// ApplyRead 將讀者加入已讀集合.
// 本地使用者自己的已讀事件忽略；同一使用者重複的 ack 忽略.
func (t Timeline) ApplyRead(id, readerID, viewerID string) Timeline {
	if readerID == viewerID {
		return t
	}
	i := t.indexOf(id)
	if i < 0 {
		return t
	}
	if t[i].HasReadBy(readerID) {
		return t
	}
	out := t.clone()
	out[i].ReadBy = append(out[i].ReadBy, readerID)
	return out
}

// AppendPending 追加樂觀發送的 pending 訊息.
func (t Timeline) AppendPending(m message.Message) Timeline {
	m.Pending = true
	return append(t.clone(), m.Clone())
}

// MarkFailed 將 pending 訊息標記為發送失敗（保留原文供重試）.
func (t Timeline) MarkFailed(tempID string) Timeline {
	i := t.indexOf(tempID)
	if i < 0 {
		return t
	}
	out := t.clone()
	out[i].Pending = false
	out[i].Failed = true
	return out
}

// ReplaceByID 原地以新訊息替換指定條目（重試成功後替換失敗氣泡，位置不變）.
func (t Timeline) ReplaceByID(oldID string, m message.Message) Timeline {
	i := t.indexOf(oldID)
	if i < 0 {
		return t.Upsert(m)
	}
	out := t.clone()
	out[i] = m.Clone()
	return out
}

// SortStable 依 CreatedAt 穩定排序（相同時間保持到達順序）.
// 只在合併亂序分頁後需要時呼叫，正常路徑維持插入順序即可.
func (t Timeline) SortStable() Timeline {
	out := t.clone()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
