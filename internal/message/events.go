package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// 伺服器事件名稱常數.
const (
	WireReceiveMessage    = "receive_message"
	WireMessageEdited     = "message_edited"
	WireMessageDeleted    = "message_deleted"
	WireMessageExpired    = "message_expired"
	WireReactionUpdated   = "reaction_updated"
	WireMessageRead       = "message_read"
	WireUserTyping        = "user_typing"
	WireUserStoppedTyping = "user_stopped_typing"
)

// 客戶端事件名稱常數.
const (
	WireJoinRooms   = "join:rooms"
	WireJoinRoom    = "join_room"
	WireLeaveRoom   = "leave_room"
	WireSendMessage = "send_message"
)

// 刪除範圍常數.
const (
	DeleteScopeMe  = "me"
	DeleteScopeAll = "all"
)

// 反應操作常數.
const (
	ReactionOpAdded   = "added"
	ReactionOpRemoved = "removed"
)

// EventType 內部事件類型.
type EventType string

const (
	EventReceiveMessage    EventType = "receive_message"
	EventMessageEdited     EventType = "message_edited"
	EventMessageDeleted    EventType = "message_deleted"
	EventMessageExpired    EventType = "message_expired"
	EventReactionUpdated   EventType = "reaction_updated"
	EventMessageRead       EventType = "message_read"
	EventUserTyping        EventType = "user_typing"
	EventUserStoppedTyping EventType = "user_stopped_typing"
)

// Event 正規化後的內部事件.
// 伺服器事件欄位形狀鬆散（messageId / id / message.id 互為備援），
// 全部在解碼邊界收斂成這個封閉集合，防禦性取值不進入 reducer.
type Event struct {
	Type      EventType
	RoomID    string
	MessageID string

	// EventReceiveMessage
	Message *Message

	// EventMessageEdited
	NewContent    string
	NewRawContent string
	EditedAt      *time.Time

	// EventMessageDeleted
	Scope  string
	UserID string // scope=me 時的目標使用者

	// EventReactionUpdated
	Emoji   string
	Op      string
	Count   *int // 權威計數（存在時優先於 Op 增減）
	ActorID string

	// EventMessageRead
	ReaderID string
}

// wireFrame 即時通道的通用封包格式.
type wireFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeFrame 編碼送往伺服器的事件封包.
func EncodeFrame(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireFrame{Event: event, Payload: raw})
}

// DecodeFrame 解碼伺服器事件封包並正規化為內部事件.
func DecodeFrame(data []byte) (*Event, error) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("無法解析事件封包: %w", err)
	}
	return DecodeEvent(frame.Event, frame.Payload)
}

// loosePayload 伺服器事件的鬆散欄位形狀.
type loosePayload struct {
	ID        string   `json:"id"`
	MessageID string   `json:"messageId"`
	RoomID    string   `json:"roomId"`
	ChatRoom  string   `json:"chatRoomId"`
	Message   *Message `json:"message"`

	NewContent string `json:"newContent"`
	Content    string `json:"content"`
	RawContent string `json:"rawContent"`
	EditedAt   string `json:"editedAt"`

	Scope  string `json:"scope"`
	Mode   string `json:"mode"`
	UserID string `json:"userId"`

	Emoji string `json:"emoji"`
	Op    string `json:"op"`
	Count *int   `json:"count"`

	ReaderID string `json:"readerId"`
}

// messageID 鬆散欄位備援: messageId ?? id ?? message.id.
func (p *loosePayload) messageID() string {
	if p.MessageID != "" {
		return p.MessageID
	}
	if p.ID != "" {
		return p.ID
	}
	if p.Message != nil {
		return p.Message.ID
	}
	return ""
}

// roomID 鬆散欄位備援: roomId ?? chatRoomId ?? message.chat_room_id.
func (p *loosePayload) roomID() string {
	if p.RoomID != "" {
		return p.RoomID
	}
	if p.ChatRoom != "" {
		return p.ChatRoom
	}
	if p.Message != nil {
		return p.Message.ChatRoomID
	}
	return ""
}

// DecodeEvent 將具名事件與鬆散 payload 正規化為內部事件.
// 未知事件名稱回傳錯誤，由呼叫端記錄後忽略.
func DecodeEvent(name string, payload []byte) (*Event, error) {
	var p loosePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("無法解析 %s 事件內容: %w", name, err)
		}
	}

	ev := &Event{
		RoomID:    p.roomID(),
		MessageID: p.messageID(),
	}

	switch name {
	case WireReceiveMessage:
		ev.Type = EventReceiveMessage
		msg := p.Message
		if msg == nil {
			// 有些伺服器直接把訊息欄位平鋪在 payload 上
			var flat Message
			if err := json.Unmarshal(payload, &flat); err != nil {
				return nil, fmt.Errorf("無法解析 %s 訊息內容: %w", name, err)
			}
			msg = &flat
		}
		if msg.ID == "" {
			msg.ID = ev.MessageID
		}
		if msg.ID == "" {
			return nil, fmt.Errorf("%s 事件缺少訊息 ID", name)
		}
		ev.MessageID = msg.ID
		ev.Message = msg

	case WireMessageEdited:
		ev.Type = EventMessageEdited
		if ev.MessageID == "" {
			return nil, fmt.Errorf("%s 事件缺少訊息 ID", name)
		}
		ev.NewContent = p.NewContent
		if ev.NewContent == "" {
			ev.NewContent = p.Content
		}
		ev.NewRawContent = p.RawContent
		if p.EditedAt != "" {
			if t, err := time.Parse(time.RFC3339, p.EditedAt); err == nil {
				ev.EditedAt = &t
			}
		}

	case WireMessageDeleted:
		ev.Type = EventMessageDeleted
		if ev.MessageID == "" {
			return nil, fmt.Errorf("%s 事件缺少訊息 ID", name)
		}
		ev.Scope = p.Scope
		if ev.Scope == "" {
			ev.Scope = p.Mode
		}
		if ev.Scope != DeleteScopeMe && ev.Scope != DeleteScopeAll {
			return nil, fmt.Errorf("%s 事件刪除範圍無效: %q", name, ev.Scope)
		}
		ev.UserID = p.UserID

	case WireMessageExpired:
		ev.Type = EventMessageExpired
		if ev.MessageID == "" {
			return nil, fmt.Errorf("%s 事件缺少訊息 ID", name)
		}

	case WireReactionUpdated:
		ev.Type = EventReactionUpdated
		if ev.MessageID == "" {
			return nil, fmt.Errorf("%s 事件缺少訊息 ID", name)
		}
		if p.Emoji == "" {
			return nil, fmt.Errorf("%s 事件缺少 emoji", name)
		}
		ev.Emoji = p.Emoji
		ev.Op = p.Op
		ev.Count = p.Count
		ev.ActorID = p.UserID
		if ev.Count == nil && ev.Op != ReactionOpAdded && ev.Op != ReactionOpRemoved {
			return nil, fmt.Errorf("%s 事件缺少權威計數且操作無效: %q", name, ev.Op)
		}

	case WireMessageRead:
		ev.Type = EventMessageRead
		if ev.MessageID == "" {
			return nil, fmt.Errorf("%s 事件缺少訊息 ID", name)
		}
		ev.ReaderID = p.ReaderID
		if ev.ReaderID == "" {
			ev.ReaderID = p.UserID
		}
		if ev.ReaderID == "" {
			return nil, fmt.Errorf("%s 事件缺少讀者 ID", name)
		}

	case WireUserTyping:
		ev.Type = EventUserTyping
		ev.UserID = p.UserID

	case WireUserStoppedTyping:
		ev.Type = EventUserStoppedTyping
		ev.UserID = p.UserID

	default:
		return nil, fmt.Errorf("未知的事件名稱: %q", name)
	}

	return ev, nil
}
