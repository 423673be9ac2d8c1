package thread

import (
	"testing"
	"time"

	"chat-client/internal/message"
)

func msgAt(id, sender, content string, sec int) message.Message {
	return message.Message{
		ID:         id,
		ChatRoomID: "room1",
		SenderID:   sender,
		Content:    content,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, sec, 0, time.UTC),
	}
}

func ids(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].ID
	}
	return out
}

func assertIDs(t *testing.T, tl Timeline, want ...string) {
	t.Helper()
	got := ids(tl)
	if len(got) != len(want) {
		t.Fatalf("timeline length = %d, want %d (got %v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("timeline order = %v, want %v", got, want)
		}
	}
}

func TestReplaceAll_Dedup(t *testing.T) {
	var tl Timeline
	tl = tl.ReplaceAll([]message.Message{
		msgAt("m1", "alice", "a", 1),
		msgAt("m2", "bob", "b", 2),
		msgAt("m1", "alice", "a", 1), // 伺服器重複
	})
	assertIDs(t, tl, "m1", "m2")
}

func TestPrepend_SkipsExisting(t *testing.T) {
	var tl Timeline
	tl = tl.ReplaceAll([]message.Message{
		msgAt("m3", "alice", "c", 3),
		msgAt("m4", "bob", "d", 4),
	})

	// 回填頁與現有窗格部分重疊
	tl = tl.Prepend([]message.Message{
		msgAt("m1", "alice", "a", 1),
		msgAt("m2", "bob", "b", 2),
		msgAt("m3", "alice", "c", 3),
	})

	assertIDs(t, tl, "m1", "m2", "m3", "m4")
}

func TestUpsert_DedupAgainstPage(t *testing.T) {
	// 即時事件與初始分頁競速：同 ID 不得重複
	var tl Timeline
	tl = tl.ReplaceAll([]message.Message{msgAt("m1", "alice", "a", 1)})
	tl = tl.Upsert(msgAt("m1", "alice", "a", 1))
	assertIDs(t, tl, "m1")
}

func TestUpsert_ReconcilesPendingByClientTag(t *testing.T) {
	var tl Timeline
	pending := msgAt("temp-1-abc", "alice", "hello", 5)
	pending.ClientTag = "temp-1-abc"
	tl = tl.AppendPending(pending)

	// 伺服器回播：正式 ID 但帶相同對賬標記
	echo := msgAt("m9", "alice", "hello", 5)
	echo.ClientTag = "temp-1-abc"
	tl = tl.Upsert(echo)

	assertIDs(t, tl, "m9")
	if tl[0].Pending {
		t.Fatal("reconciled message should not stay pending")
	}
}

func TestUpsert_AppendsNew(t *testing.T) {
	var tl Timeline
	tl = tl.ReplaceAll([]message.Message{msgAt("m1", "alice", "a", 1)})
	tl = tl.Upsert(msgAt("m2", "bob", "b", 2))
	assertIDs(t, tl, "m1", "m2")
}

func TestApplyEdit(t *testing.T) {
	var tl Timeline
	tl = tl.ReplaceAll([]message.Message{msgAt("m1", "alice", "original", 1)})

	edited := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	tl = tl.ApplyEdit("m1", "updated", "", &edited)

	if tl[0].Content != "updated" {
		t.Fatalf("content = %q, want %q", tl[0].Content, "updated")
	}
	if tl[0].EditedAt == nil || !tl[0].EditedAt.Equal(edited) {
		t.Fatalf("editedAt = %v, want %v", tl[0].EditedAt, edited)
	}

	// 冪等：重複套用同一事件結果相同
	again := tl.ApplyEdit("m1", "updated", "", &edited)
	if again[0].Content != "updated" || !again[0].EditedAt.Equal(edited) {
		t.Fatal("re-applying the same edit must not change the result")
	}

	// 窗格外的 ID 為 no-op
	missing := tl.ApplyEdit("nope", "x", "", nil)
	assertIDs(t, missing, "m1")
}

func TestApplyDelete_ForAllTombstones(t *testing.T) {
	var tl Timeline
	withExtras := msgAt("m1", "alice", "secret", 1)
	withExtras.Attachments = []message.Attachment{{URL: "http://x/file.png", MimeType: "image/png"}}
	withExtras.Reactions = map[string]int{"👍": 2}
	tl = tl.ReplaceAll([]message.Message{withExtras, msgAt("m2", "bob", "b", 2)})

	tl = tl.ApplyDelete("m1", message.DeleteScopeAll, "", "viewer")

	// 條目保留（版面穩定），內容與附件清空
	assertIDs(t, tl, "m1", "m2")
	m := tl[0]
	if !m.DeletedForAll {
		t.Fatal("message should be tombstoned")
	}
	if m.Content != "" || len(m.Attachments) != 0 || len(m.Reactions) != 0 {
		t.Fatalf("tombstone must clear content, attachments and reactions: %+v", m)
	}
}

func TestApplyDelete_ForMeFiltersByViewer(t *testing.T) {
	base := Timeline{}.ReplaceAll([]message.Message{
		msgAt("m1", "alice", "a", 1),
		msgAt("m2", "bob", "b", 2),
	})

	// 事件目標是本地使用者：移除
	mine := base.ApplyDelete("m1", message.DeleteScopeMe, "viewer", "viewer")
	assertIDs(t, mine, "m2")

	// 事件目標是別人（廣播到整個房間）：忽略
	other := base.ApplyDelete("m1", message.DeleteScopeMe, "someone-else", "viewer")
	assertIDs(t, other, "m1", "m2")
}

func TestApplyExpire(t *testing.T) {
	var tl Timeline
	tl = tl.ReplaceAll([]message.Message{
		msgAt("m1", "alice", "a", 1),
		msgAt("m2", "bob", "b", 2),
	})

	tl = tl.ApplyExpire("m1")
	assertIDs(t, tl, "m2")

	// 已不存在時為 no-op
	tl = tl.ApplyExpire("m1")
	assertIDs(t, tl, "m2")
}

func TestApplyReaction(t *testing.T) {
	testCases := []struct {
		name      string
		initial   map[string]int
		op        string
		count     *int
		wantCount int
	}{
		{"op add from empty", nil, message.ReactionOpAdded, nil, 1},
		{"op add increments", map[string]int{"👍": 2}, message.ReactionOpAdded, nil, 3},
		{"op remove decrements", map[string]int{"👍": 2}, message.ReactionOpRemoved, nil, 1},
		{"op remove clamps at zero", nil, message.ReactionOpRemoved, nil, 0},
		{"authoritative count wins over op", map[string]int{"👍": 1}, message.ReactionOpAdded, intPtr(5), 5},
		{"authoritative zero clears", map[string]int{"👍": 3}, message.ReactionOpRemoved, intPtr(0), 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := msgAt("m1", "alice", "a", 1)
			m.Reactions = tc.initial
			tl := Timeline{}.ReplaceAll([]message.Message{m})

			tl = tl.ApplyReaction("m1", "👍", tc.op, tc.count, "bob", "viewer")

			got := tl[0].Reactions["👍"]
			if got != tc.wantCount {
				t.Fatalf("count = %d, want %d", got, tc.wantCount)
			}
			if tc.wantCount == 0 {
				if _, exists := tl[0].Reactions["👍"]; exists {
					t.Fatal("zero count must remove the emoji entry")
				}
			}
		})
	}
}

func TestApplyReaction_TracksViewerToggle(t *testing.T) {
	tl := Timeline{}.ReplaceAll([]message.Message{msgAt("m1", "alice", "a", 1)})

	tl = tl.ApplyReaction("m1", "❤️", message.ReactionOpAdded, nil, "viewer", "viewer")
	if !tl[0].MyReactions["❤️"] {
		t.Fatal("viewer's own reaction should be tracked")
	}

	tl = tl.ApplyReaction("m1", "❤️", message.ReactionOpRemoved, nil, "viewer", "viewer")
	if tl[0].MyReactions["❤️"] {
		t.Fatal("viewer's reaction removal should clear the toggle")
	}
}

func TestApplyRead(t *testing.T) {
	tl := Timeline{}.ReplaceAll([]message.Message{msgAt("m1", "viewer", "a", 1)})

	// 他人的已讀回執：加入集合
	tl = tl.ApplyRead("m1", "bob", "viewer")
	if !tl[0].HasReadBy("bob") {
		t.Fatal("reader should be recorded")
	}

	// 重複 ack：不得重複
	tl = tl.ApplyRead("m1", "bob", "viewer")
	if len(tl[0].ReadBy) != 1 {
		t.Fatalf("readBy = %v, want exactly one entry", tl[0].ReadBy)
	}

	// 本地使用者自己的已讀：忽略
	tl = tl.ApplyRead("m1", "viewer", "viewer")
	if len(tl[0].ReadBy) != 1 {
		t.Fatalf("own read receipt must be ignored, got %v", tl[0].ReadBy)
	}
}

func TestMarkFailedAndReplace(t *testing.T) {
	var tl Timeline
	pending := msgAt("temp-1-abc", "viewer", "hi", 1)
	pending.ClientTag = "temp-1-abc"
	tl = tl.AppendPending(pending)
	tl = tl.Upsert(msgAt("m2", "bob", "later", 2))

	tl = tl.MarkFailed("temp-1-abc")
	if !tl[0].Failed || tl[0].Pending {
		t.Fatalf("bubble should be failed and not pending: %+v", tl[0])
	}

	// 重試成功：原地替換，位置不變
	tl = tl.ReplaceByID("temp-1-abc", msgAt("m9", "viewer", "hi", 1))
	assertIDs(t, tl, "m9", "m2")
}

func TestSortStable(t *testing.T) {
	tl := Timeline{
		msgAt("m2", "bob", "b", 2),
		msgAt("m1", "alice", "a", 1),
		msgAt("m3", "carol", "c", 2), // 與 m2 同時間，到達順序在後
	}

	sorted := tl.SortStable()
	assertIDs(t, sorted, "m1", "m2", "m3")
}

func TestPureUpdates_DoNotMutateOldSnapshot(t *testing.T) {
	tl := Timeline{}.ReplaceAll([]message.Message{msgAt("m1", "alice", "original", 1)})
	snapshot := ids(tl)

	_ = tl.ApplyEdit("m1", "changed", "", nil)
	_ = tl.ApplyDelete("m1", message.DeleteScopeAll, "", "viewer")

	if tl[0].Content != "original" || tl[0].DeletedForAll {
		t.Fatal("updates must not mutate the previous snapshot")
	}
	assertIDs(t, tl, snapshot...)
}

func intPtr(v int) *int { return &v }
