package feed

import (
	"spotted/server/internal/identity"
	"spotted/server/internal/model"
)

// frameLocked 生成当前渲染帧；调用方持有 mu。
func (s *Screen) frameLocked() model.RenderFrame {
	snap := s.ctrl.Snapshot()
	frame := model.RenderFrame{
		Index:     snap.Index,
		Length:    len(s.photos),
		Empty:     len(s.photos) == 0,
		Offset:    snap.Offset,
		Direction: snap.Direction.String(),
		State:     snap.State.String(),
		LikeBurst: s.burst,
		Notice:    s.notice,
	}
	if frame.Empty {
		frame.Index = -1
		return frame
	}

	userID := identity.UserID(s.identity)
	now := s.now()
	idx := snap.Index
	if idx < 0 || idx >= len(s.photos) {
		return frame
	}
	frame.Current = model.NewPhotoView(s.photos[idx], userID, now)
	if idx > 0 {
		frame.Previous = model.NewPhotoView(s.photos[idx-1], userID, now)
	}
	if idx < len(s.photos)-1 {
		frame.Next = model.NewPhotoView(s.photos[idx+1], userID, now)
	}
	frame.OverlayVisible = s.overlay
	return frame
}
