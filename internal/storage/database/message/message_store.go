package message

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessageStore message 存儲實作.
type MessageStore struct {
	collection *mongo.Collection
}

// NewMessageStore 創建新的 message 存儲.
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		collection: db.Collection("messages"),
	}
}

// Create 創建消息.
func (s *MessageStore) Create(ctx context.Context, message *Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	_, err := s.collection.InsertOne(ctx, message)
	return err
}

// GetByID 根據 ID 獲取消息.
func (s *MessageStore) GetByID(ctx context.Context, id string) (*Message, error) {
	var message Message
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&message)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// encodeCursor 將分頁位置編碼為不透明游標.
// 以 created_at + id 做為位置（同一時間戳的訊息以 id 決勝負）.
func encodeCursor(m *Message) string {
	raw := fmt.Sprintf("%s|%s", m.CreatedAt.UTC().Format(time.RFC3339Nano), m.ID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor 解碼游標.
func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor: %w", err)
	}
	var ts, id string
	for i := 0; i < len(raw); i++ {
		if raw[i] == '|' {
			ts, id = string(raw[:i]), string(raw[i+1:])
			break
		}
	}
	if ts == "" || id == "" {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return t, id, nil
}

// ListPage 分頁列出消息（最新在前）.
// cursor 為 nil 時從最新開始；回傳下一頁游標，沒有更舊的消息時為 nil.
func (s *MessageStore) ListPage(ctx context.Context, roomID string, limit int64, cursor *string) ([]*Message, *string, error) {
	filter := bson.M{"chat_room_id": roomID}

	if cursor != nil {
		ts, id, err := decodeCursor(*cursor)
		if err != nil {
			return nil, nil, err
		}
		// created_at 更舊，或同時間且 id 更小
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": ts}},
			bson.M{"created_at": ts, "_id": bson.M{"$lt": id}},
		}
	}

	opts := options.Find()
	opts.SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	// 多抓一筆判斷是否還有下一頁
	opts.SetLimit(limit + 1)

	cur, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close(ctx)

	var messages []*Message
	for cur.Next(ctx) {
		var message Message
		if err := cur.Decode(&message); err != nil {
			return nil, nil, err
		}
		messages = append(messages, &message)
	}
	if err := cur.Err(); err != nil {
		return nil, nil, err
	}

	var next *string
	if int64(len(messages)) > limit {
		messages = messages[:limit]
		token := encodeCursor(messages[len(messages)-1])
		next = &token
	}

	return messages, next, nil
}

// Edit 編輯消息內容.
func (s *MessageStore) Edit(ctx context.Context, id, newContent string) (*Message, error) {
	now := time.Now().UTC()
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"content": newContent, "edited_at": now},
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// TombstoneAll 對所有人刪除：清空內容與附件，保留條目.
func (s *MessageStore) TombstoneAll(ctx context.Context, id string) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"deleted_for_all": true, "content": ""},
		"$unset": bson.M{"attachments": "", "content_ciphertext": "", "encrypted_keys": ""},
	})
	return err
}

// Delete 實際刪除消息（TTL 驅逐用）.
func (s *MessageStore) Delete(ctx context.Context, id string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// ListExpired 列出已過期的消息.
func (s *MessageStore) ListExpired(ctx context.Context, now time.Time) ([]*Message, error) {
	cur, err := s.collection.Find(ctx, bson.M{"expire_at": bson.M{"$lte": now}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var messages []*Message
	for cur.Next(ctx) {
		var message Message
		if err := cur.Decode(&message); err != nil {
			return nil, err
		}
		messages = append(messages, &message)
	}
	return messages, cur.Err()
}

// CreateIndexes 創建查詢索引.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("messages").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat_room_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "expire_at", Value: 1}}},
	})
	return err
}
