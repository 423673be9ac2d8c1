package devserver

import (
	"context"
	"time"

	apimsg "chat-client/internal/message"
	"chat-client/internal/platform/logger"
)

const sweepInterval = time.Second

// RunSweeper 定期驅逐過期消息並廣播 message_expired.
// 到期即整條移除，不留墓碑.
func (s *Server) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepExpired(ctx, now.UTC())
		}
	}
}

// sweepExpired 驅逐一批過期消息.
func (s *Server) sweepExpired(ctx context.Context, now time.Time) {
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		logger.Errorf(ctx, "過期消息查詢失敗: %v", err)
		return
	}

	for _, m := range expired {
		if err := s.store.Delete(ctx, m.ID); err != nil {
			logger.Errorf(ctx, "過期消息刪除失敗: %v", err)
			continue
		}

		s.reactionMu.Lock()
		delete(s.reactions, m.ID)
		s.reactionMu.Unlock()

		s.hub.Broadcast(m.ChatRoomID, apimsg.WireMessageExpired, map[string]string{
			"roomId":    m.ChatRoomID,
			"messageId": m.ID,
		})
	}
}
