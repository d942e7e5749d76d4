package paging

import (
	"errors"
	"math"
	"testing"
	"time"

	"spotted/server/internal/gesture"
)

const viewport = 800.0

func settle(t *testing.T, c *Controller) {
	t.Helper()
	for i := 0; i < 200 && c.Animating(); i++ {
		c.Step(16 * time.Millisecond)
	}
	if c.State() != AtRest {
		t.Fatalf("expected controller to settle, state=%s", c.State())
	}
}

// TestControllerAdvanceCommitsAfterAnimation 验证翻页只在动画完成时改变 index。
func TestControllerAdvanceCommitsAfterAnimation(t *testing.T) {
	c := NewController(DefaultConfig(), 3, viewport)
	var committed []int
	c.OnCommit(func(i int) { committed = append(committed, i) })

	if err := c.DragStart(); err != nil {
		t.Fatalf("drag start: %v", err)
	}
	c.DragMove(-300)
	if got := c.Release(gesture.Advance); got != gesture.Advance {
		t.Fatalf("expected advance, got %s", got)
	}
	snap := c.Snapshot()
	if snap.State != Animating || snap.Direction != Advancing || snap.Index != 0 {
		t.Fatalf("unexpected snapshot after release: %+v", snap)
	}

	c.Step(100 * time.Millisecond)
	if off := c.Snapshot().Offset; off >= -300 || off <= -viewport {
		t.Fatalf("expected offset between drag and target, got %f", off)
	}
	if c.Index() != 0 {
		t.Fatalf("expected index unchanged mid-animation, got %d", c.Index())
	}

	if !c.Step(200 * time.Millisecond) {
		t.Fatalf("expected commit on animation completion")
	}
	snap = c.Snapshot()
	if snap.Index != 1 || snap.Offset != 0 || snap.Direction != DirectionNone || snap.State != AtRest {
		t.Fatalf("unexpected snapshot after commit: %+v", snap)
	}
	if len(committed) != 1 || committed[0] != 1 {
		t.Fatalf("expected one commit to index 1, got %v", committed)
	}
}

// TestControllerRetreat 验证向下翻回上一张。
func TestControllerRetreat(t *testing.T) {
	c := NewController(DefaultConfig(), 3, viewport)
	c.DragStart()
	c.Release(gesture.Advance)
	settle(t, c)

	c.DragStart()
	c.DragMove(250)
	if got := c.Release(gesture.Retreat); got != gesture.Retreat {
		t.Fatalf("expected retreat, got %s", got)
	}
	settle(t, c)
	if c.Index() != 0 {
		t.Fatalf("expected index 0, got %d", c.Index())
	}
}

// TestControllerEdgeCommitTreatedAsCancel 验证首尾处越界翻页被拒绝并回到静止。
func TestControllerEdgeCommitTreatedAsCancel(t *testing.T) {
	c := NewController(DefaultConfig(), 2, viewport)
	committed := 0
	c.OnCommit(func(int) { committed++ })

	c.DragStart()
	c.DragMove(300)
	if got := c.Release(gesture.Retreat); got != gesture.Cancel {
		t.Fatalf("expected retreat at index 0 to cancel, got %s", got)
	}
	if c.Snapshot().Direction != DirectionNone {
		t.Fatalf("expected no committed direction at edge")
	}
	settle(t, c)
	if c.Index() != 0 {
		t.Fatalf("expected index 0, got %d", c.Index())
	}

	c.DragStart()
	c.Release(gesture.Advance)
	settle(t, c)
	if c.Index() != 1 {
		t.Fatalf("expected index 1, got %d", c.Index())
	}

	c.DragStart()
	c.DragMove(-300)
	if got := c.Release(gesture.Advance); got != gesture.Cancel {
		t.Fatalf("expected advance at last index to cancel, got %s", got)
	}
	settle(t, c)
	if c.Index() != 1 {
		t.Fatalf("expected index to stay 1, got %d", c.Index())
	}
	if committed != 1 {
		t.Fatalf("expected exactly one commit, got %d", committed)
	}
}

// TestControllerSlowHalfDragCancels 验证半屏慢拖松手后回弹，index 不变。
func TestControllerSlowHalfDragCancels(t *testing.T) {
	c := NewController(DefaultConfig(), 3, viewport)
	c.DragStart()
	c.DragMove(-0.5 * viewport)

	intent := gesture.ClassifyRelease(-0.5*viewport, -100, viewport, 0.2, 500)
	if got := c.Release(intent); got != gesture.Cancel {
		t.Fatalf("expected cancel, got %s", got)
	}

	prev := math.Abs(c.Snapshot().Offset)
	c.Step(16 * time.Millisecond)
	if cur := math.Abs(c.Snapshot().Offset); cur >= prev {
		t.Fatalf("expected offset to decay, got %f -> %f", prev, cur)
	}
	settle(t, c)
	if c.Index() != 0 || c.Snapshot().Offset != 0 {
		t.Fatalf("unexpected snapshot: %+v", c.Snapshot())
	}
}

// TestControllerRubberBand 验证越过首尾时位移被限制。
func TestControllerRubberBand(t *testing.T) {
	c := NewController(DefaultConfig(), 1, viewport)
	c.DragStart()

	c.DragMove(500)
	if got := c.Snapshot().Offset; got != 0.15*viewport {
		t.Fatalf("expected clamp at %f, got %f", 0.15*viewport, got)
	}
	c.DragMove(-500)
	if got := c.Snapshot().Offset; got != -0.15*viewport {
		t.Fatalf("expected clamp at %f, got %f", -0.15*viewport, got)
	}
	c.DragMove(40)
	if got := c.Snapshot().Offset; got != 40 {
		t.Fatalf("expected 1:1 tracking inside band, got %f", got)
	}

	mid := NewController(DefaultConfig(), 3, viewport)
	mid.DragStart()
	mid.Release(gesture.Advance)
	settle(t, mid)
	mid.DragStart()
	mid.DragMove(500)
	if got := mid.Snapshot().Offset; got != 500 {
		t.Fatalf("expected no clamp in the middle, got %f", got)
	}
}

// TestControllerRejectsDragWhileBusy 验证只有 AtRest 能开始拖拽。
func TestControllerRejectsDragWhileBusy(t *testing.T) {
	empty := NewController(DefaultConfig(), 0, viewport)
	if err := empty.DragStart(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if empty.Index() != -1 {
		t.Fatalf("expected unset index, got %d", empty.Index())
	}

	c := NewController(DefaultConfig(), 3, viewport)
	c.DragStart()
	if err := c.DragStart(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while dragging, got %v", err)
	}
	c.Release(gesture.Advance)
	if err := c.DragStart(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while animating, got %v", err)
	}

	c.Dispose()
	if err := c.DragStart(); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	if c.Step(time.Second) {
		t.Fatalf("expected no commit after dispose")
	}
}

// TestControllerCollectionShrunk 覆盖 [A,B,C] 查看 B 时删除不同位置的记录。
func TestControllerCollectionShrunk(t *testing.T) {
	viewingB := func() *Controller {
		c := NewController(DefaultConfig(), 3, viewport)
		c.DragStart()
		c.Release(gesture.Advance)
		settle(t, c)
		return c
	}

	cases := []struct {
		name    string
		removed int
		want    int
	}{
		{"delete earlier record", 0, 0},
		{"delete later record", 2, 1},
		{"delete viewed record", 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := viewingB()
			c.CollectionShrunk(tc.removed, 2)
			if c.Index() != tc.want || c.Length() != 2 {
				t.Fatalf("expected index %d, got %d (len %d)", tc.want, c.Index(), c.Length())
			}
		})
	}

	first := NewController(DefaultConfig(), 2, viewport)
	first.CollectionShrunk(0, 1)
	if first.Index() != 0 {
		t.Fatalf("expected clamp to 0 after deleting first viewed record, got %d", first.Index())
	}
	first.CollectionShrunk(0, 0)
	if first.Index() != -1 || first.Length() != 0 {
		t.Fatalf("expected empty controller, got index %d len %d", first.Index(), first.Length())
	}
}

// TestControllerCollectionShrunkCancelsAnimation 验证删除发生在动画中时先取消动画。
func TestControllerCollectionShrunkCancelsAnimation(t *testing.T) {
	c := NewController(DefaultConfig(), 3, viewport)
	committed := 0
	c.OnCommit(func(int) { committed++ })
	c.DragStart()
	c.Release(gesture.Advance)

	c.CollectionShrunk(2, 2)
	if c.State() != AtRest || c.Snapshot().Offset != 0 {
		t.Fatalf("expected animation cancelled, got %+v", c.Snapshot())
	}
	if c.Step(time.Second) || committed != 0 {
		t.Fatalf("expected cancelled animation not to commit")
	}
}

// TestControllerCollectionGrew 验证插入后仍停留在同一张照片上。
func TestControllerCollectionGrew(t *testing.T) {
	empty := NewController(DefaultConfig(), 0, viewport)
	empty.CollectionGrew(0, 1)
	if empty.Index() != 0 || empty.Length() != 1 {
		t.Fatalf("expected index 0 after first insert, got %d", empty.Index())
	}

	c := NewController(DefaultConfig(), 2, viewport)
	c.DragStart()
	c.Release(gesture.Advance)
	settle(t, c)

	c.CollectionGrew(0, 3)
	if c.Index() != 2 {
		t.Fatalf("expected index shifted to 2, got %d", c.Index())
	}
	c.CollectionGrew(3, 4)
	if c.Index() != 2 || c.Length() != 4 {
		t.Fatalf("expected index 2 len 4, got %d len %d", c.Index(), c.Length())
	}
}
