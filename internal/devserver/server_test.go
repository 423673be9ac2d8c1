package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	apimsg "chat-client/internal/message"
	storemsg "chat-client/internal/storage/database/message"

	"github.com/gin-gonic/gin"
)

// memoryRepo 記憶體存儲（測試用，語義對齊 MessageStore）.
type memoryRepo struct {
	mu       sync.Mutex
	nextID   int
	messages []*storemsg.Message
}

func (r *memoryRepo) Create(ctx context.Context, m *storemsg.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		r.nextID++
		m.ID = fmt.Sprintf("m%d", r.nextID)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	clone := *m
	r.messages = append(r.messages, &clone)
	return nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id string) (*storemsg.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			clone := *m
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("not found: %s", id)
}

func (r *memoryRepo) ListPage(ctx context.Context, roomID string, limit int64, cursor *string) ([]*storemsg.Message, *string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var inRoom []*storemsg.Message
	for _, m := range r.messages {
		if m.ChatRoomID == roomID {
			clone := *m
			inRoom = append(inRoom, &clone)
		}
	}
	// 最新在前
	sort.Slice(inRoom, func(i, j int) bool { return inRoom[i].CreatedAt.After(inRoom[j].CreatedAt) })

	start := 0
	if cursor != nil {
		for i, m := range inRoom {
			if m.ID == *cursor {
				start = i + 1
				break
			}
		}
	}
	if start > len(inRoom) {
		start = len(inRoom)
	}
	end := start + int(limit)
	if end > len(inRoom) {
		end = len(inRoom)
	}

	page := inRoom[start:end]
	var next *string
	if end < len(inRoom) && len(page) > 0 {
		token := page[len(page)-1].ID
		next = &token
	}
	return page, next, nil
}

func (r *memoryRepo) Edit(ctx context.Context, id, newContent string) (*storemsg.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			now := time.Now().UTC()
			m.Content = newContent
			m.EditedAt = &now
			clone := *m
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("not found: %s", id)
}

func (r *memoryRepo) TombstoneAll(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			m.DeletedForAll = true
			m.Content = ""
			m.Attachments = nil
			m.ContentCiphertext = ""
			m.EncryptedKeys = nil
			return nil
		}
	}
	return fmt.Errorf("not found: %s", id)
}

func (r *memoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.messages {
		if m.ID == id {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *memoryRepo) ListExpired(ctx context.Context, now time.Time) ([]*storemsg.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*storemsg.Message
	for _, m := range r.messages {
		if m.ExpireAt != nil && !m.ExpireAt.After(now) {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *memoryRepo, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := &memoryRepo{}
	srv := NewServer(repo, NewHub())
	return srv, repo, srv.Router()
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendMessage_CreatesAndReturnsWire(t *testing.T) {
	_, repo, router := newTestServer(t)

	w := postJSON(t, router, "/messages", apimsg.SendRequest{
		ChatRoomID: "room1",
		Content:    "hello",
		ClientTag:  "tag1",
	}, map[string]string{userIDHeader: "alice"})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var wire apimsg.Message
	if err := json.Unmarshal(w.Body.Bytes(), &wire); err != nil {
		t.Fatal(err)
	}
	if wire.ID == "" || wire.ClientTag != "tag1" || wire.SenderID != "alice" {
		t.Fatalf("wire = %+v", wire)
	}

	repo.mu.Lock()
	stored := len(repo.messages)
	repo.mu.Unlock()
	if stored != 1 {
		t.Fatalf("stored = %d, want 1", stored)
	}
}

func TestSendMessage_ValidationRejected(t *testing.T) {
	_, _, router := newTestServer(t)

	w := postJSON(t, router, "/messages", apimsg.SendRequest{ChatRoomID: "room1"}, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}

func TestSendMessage_InjectedFailure(t *testing.T) {
	_, repo, router := newTestServer(t)

	for _, status := range []int{402, 413, 415, 429, 500} {
		w := postJSON(t, router, "/messages", apimsg.SendRequest{
			ChatRoomID: "room1",
			Content:    "hello",
		}, map[string]string{debugFailHeader: fmt.Sprintf("%d", status)})

		if w.Code != status {
			t.Fatalf("injected status = %d, got %d", status, w.Code)
		}
	}

	repo.mu.Lock()
	stored := len(repo.messages)
	repo.mu.Unlock()
	if stored != 0 {
		t.Fatal("injected failures must not persist messages")
	}
}

func TestGetMessages_PagesNewestFirst(t *testing.T) {
	_, repo, router := newTestServer(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		repo.Create(context.Background(), &storemsg.Message{
			ChatRoomID: "room1",
			SenderID:   "alice",
			Content:    fmt.Sprintf("msg %d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/messages/room1?limit=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Items      []apimsg.Message `json:"items"`
		NextCursor *string          `json:"nextCursor"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}

	if len(body.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(body.Items))
	}
	// 最新在前
	if body.Items[0].Content != "msg 5" || body.Items[1].Content != "msg 4" {
		t.Fatalf("order: %q, %q", body.Items[0].Content, body.Items[1].Content)
	}
	if body.NextCursor == nil {
		t.Fatal("more history remains, cursor must be present")
	}

	// 第二頁
	req = httptest.NewRequest(http.MethodGet, "/messages/room1?limit=2&cursor="+*body.NextCursor, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 2 || body.Items[0].Content != "msg 3" {
		t.Fatalf("second page: %+v", body.Items)
	}
}

func TestGetMessages_BadLimit(t *testing.T) {
	_, _, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/messages/room1?limit=abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestEditMessage(t *testing.T) {
	_, repo, router := newTestServer(t)
	repo.Create(context.Background(), &storemsg.Message{ID: "m1", ChatRoomID: "room1", Content: "old"})

	raw, _ := json.Marshal(map[string]string{"newContent": "new"})
	req := httptest.NewRequest(http.MethodPatch, "/messages/m1/edit", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var wire apimsg.Message
	json.Unmarshal(w.Body.Bytes(), &wire)
	if wire.Content != "new" || wire.EditedAt == nil {
		t.Fatalf("wire = %+v", wire)
	}
}

func TestDeleteMessage_Modes(t *testing.T) {
	_, repo, router := newTestServer(t)
	repo.Create(context.Background(), &storemsg.Message{ID: "m1", ChatRoomID: "room1", Content: "secret"})

	// mode 缺失：拒絕
	req := httptest.NewRequest(http.MethodDelete, "/messages/m1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing mode status = %d, want 400", w.Code)
	}

	// mode=me：存儲不變
	req = httptest.NewRequest(http.MethodDelete, "/messages/m1?mode=me", nil)
	req.Header.Set(userIDHeader, "alice")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("mode=me status = %d", w.Code)
	}
	stored, _ := repo.GetByID(context.Background(), "m1")
	if stored.DeletedForAll || stored.Content != "secret" {
		t.Fatal("mode=me must not touch the stored message")
	}

	// mode=all：墓碑化
	req = httptest.NewRequest(http.MethodDelete, "/messages/m1?mode=all", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("mode=all status = %d", w.Code)
	}
	stored, _ = repo.GetByID(context.Background(), "m1")
	if !stored.DeletedForAll || stored.Content != "" {
		t.Fatalf("mode=all must tombstone: %+v", stored)
	}
}

func TestReactions_AuthoritativeCount(t *testing.T) {
	srv, repo, router := newTestServer(t)
	repo.Create(context.Background(), &storemsg.Message{ID: "m1", ChatRoomID: "room1"})

	react := func(user, op string) *httptest.ResponseRecorder {
		return postJSON(t, router, "/messages/m1/reactions",
			map[string]string{"emoji": "👍", "op": op},
			map[string]string{userIDHeader: user})
	}

	// 兩人按讚
	react("alice", apimsg.ReactionOpAdded)
	w := react("bob", apimsg.ReactionOpAdded)

	var body struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}

	// 同一人重複按讚不重複計數
	w = react("alice", apimsg.ReactionOpAdded)
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Count != 2 {
		t.Fatalf("duplicate add count = %d, want 2", body.Count)
	}

	// 移除降到 1
	w = react("alice", apimsg.ReactionOpRemoved)
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Count != 1 {
		t.Fatalf("count after remove = %d, want 1", body.Count)
	}

	// 分頁回應帶出計數
	wire := srv.withReactions(apimsg.Message{ID: "m1"})
	if wire.Reactions["👍"] != 1 {
		t.Fatalf("page reactions = %v", wire.Reactions)
	}
}

func TestSweeper_EvictsExpired(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	past := time.Now().Add(-time.Minute)
	repo.Create(context.Background(), &storemsg.Message{ID: "m1", ChatRoomID: "room1", ExpireAt: &past})
	future := time.Now().Add(time.Hour)
	repo.Create(context.Background(), &storemsg.Message{ID: "m2", ChatRoomID: "room1", ExpireAt: &future})
	repo.Create(context.Background(), &storemsg.Message{ID: "m3", ChatRoomID: "room1"})

	srv.sweepExpired(context.Background(), time.Now())

	if _, err := repo.GetByID(context.Background(), "m1"); err == nil {
		t.Fatal("expired message must be evicted")
	}
	if _, err := repo.GetByID(context.Background(), "m2"); err != nil {
		t.Fatal("unexpired message must survive")
	}
	if _, err := repo.GetByID(context.Background(), "m3"); err != nil {
		t.Fatal("message without a TTL must survive")
	}
}

func TestHealthCheck(t *testing.T) {
	_, _, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get(requestIDHeader); got == "" {
		t.Fatal("request id header missing from response")
	}
}
