package feed

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"spotted/server/internal/gesture"
	"spotted/server/internal/identity"
	"spotted/server/internal/kv"
	"spotted/server/internal/model"
	"spotted/server/internal/photostore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) gesture.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// fireAll 触发所有未停止的计时器。
func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	timers := append([]*fakeTimer(nil), s.timers...)
	s.timers = nil
	s.mu.Unlock()
	for _, t := range timers {
		if !t.stopped {
			t.fn()
		}
	}
}

// failingBackend 在 failSet 为 true 时拒绝写入。
type failingBackend struct {
	kv.Backend
	mu      sync.Mutex
	failSet bool
}

func (b *failingBackend) Set(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	fail := b.failSet
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.Backend.Set(ctx, key, value)
}

func (b *failingBackend) setFail(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSet = v
}

// spyStore 统计 screen 发出的写操作。
type spyStore struct {
	*photostore.Store
	mu      sync.Mutex
	deletes int
	toggles int
}

func (s *spyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.Store.Delete(ctx, id)
}

func (s *spyStore) ToggleLike(ctx context.Context, id, userID string) (model.Photo, error) {
	s.mu.Lock()
	s.toggles++
	s.mu.Unlock()
	return s.Store.ToggleLike(ctx, id, userID)
}

type recorder struct {
	mu     sync.Mutex
	frames []model.RenderFrame
}

func (r *recorder) render(f model.RenderFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) last() model.RenderFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

type fixture struct {
	backend *failingBackend
	store   *photostore.Store
	spy     *spyStore
	session *identity.Session
	sched   *fakeScheduler
	rec     *recorder
	screen  *Screen
	ids     []string
}

// newFixture 准备 [c, b, a] 三张照片，均属于 u1，当前用户为 u1。
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	quiet := log.New(&bytes.Buffer{}, "", 0)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	f := &fixture{
		backend: &failingBackend{Backend: kv.NewInMemoryBackend()},
		session: identity.NewSession(&model.User{ID: "u1", Username: "al"}),
		sched:   &fakeScheduler{},
		rec:     &recorder{},
	}
	f.store = photostore.New(f.backend, photostore.Options{Now: func() time.Time { return now }, Logger: quiet})
	for _, uri := range []string{"a", "b", "c"} {
		p, err := f.store.Add(ctx, model.PhotoInput{URI: uri, OwnerID: "u1", OwnerName: "al"})
		require.NoError(t, err)
		f.ids = append([]string{p.ID}, f.ids...)
	}
	f.spy = &spyStore{Store: f.store}
	f.screen = NewScreen(f.spy, f.session, Options{
		Scheduler: f.sched,
		Renderer:  f.rec.render,
		Now:       func() time.Time { return now.Add(5 * time.Minute) },
		Logger:    quiet,
	})
	require.NoError(t, f.screen.Mount(ctx))
	t.Cleanup(f.screen.Unmount)
	return f
}

func (f *fixture) advance(t *testing.T) {
	t.Helper()
	at := time.Unix(0, 0)
	v := -900.0
	require.NoError(t, f.screen.DragStart(at))
	f.screen.DragMove(-300, at.Add(50*time.Millisecond))
	require.Equal(t, gesture.Advance, f.screen.DragEnd(-300, &v, at.Add(60*time.Millisecond)))
	for f.screen.Animating() {
		f.screen.Frame(16 * time.Millisecond)
	}
}

func TestScreenMountRendersNewestFirst(t *testing.T) {
	f := newFixture(t)

	frame := f.rec.last()
	require.NotNil(t, frame.Current)
	assert.Equal(t, f.ids[0], frame.Current.ID)
	assert.Nil(t, frame.Previous)
	require.NotNil(t, frame.Next)
	assert.Equal(t, f.ids[1], frame.Next.ID)
	assert.Equal(t, 0, frame.Index)
	assert.Equal(t, 3, frame.Length)
	assert.True(t, frame.Current.OwnedByMe)
	assert.Equal(t, "5m ago", frame.Current.Age)
	assert.Equal(t, "at_rest", frame.State)
}

// TestScreenDoubleTapLikesActivePhoto 验证双击给当前照片点赞并显示心形动画，计时到期后消失。
func TestScreenDoubleTapLikesActivePhoto(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.screen.Tap(ctx))
	require.NoError(t, f.screen.Tap(ctx))

	frame := f.rec.last()
	assert.True(t, frame.LikeBurst)
	assert.True(t, frame.Current.LikedByMe)
	assert.Equal(t, 1, frame.Current.LikeCount)
	assert.False(t, frame.OverlayVisible, "double tap must not toggle the overlay")

	f.sched.fireAll()
	frame = f.rec.last()
	assert.False(t, frame.LikeBurst)
	assert.False(t, frame.OverlayVisible)

	stored, err := f.store.Get(ctx, f.ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, stored.LikedBy)
}

func TestScreenSingleTapTogglesOverlay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.screen.Tap(ctx))
	assert.False(t, f.rec.last().OverlayVisible)

	f.sched.fireAll()
	assert.True(t, f.rec.last().OverlayVisible)

	f.screen.CloseOverlay()
	assert.False(t, f.rec.last().OverlayVisible)
	assert.Zero(t, f.spy.toggles)
}

// TestScreenSwipeChangesActivePhoto 验证只有提交的翻页会改变点赞目标。
func TestScreenSwipeChangesActivePhoto(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.advance(t)
	frame := f.rec.last()
	assert.Equal(t, 1, frame.Index)
	assert.Equal(t, f.ids[1], frame.Current.ID)
	assert.Equal(t, "none", frame.Direction)

	require.NoError(t, f.screen.Like(ctx))
	liked, err := f.store.Get(ctx, f.ids[1])
	require.NoError(t, err)
	assert.Equal(t, 1, liked.LikeCount)
	assert.False(t, f.rec.last().LikeBurst)
}

// TestScreenDeleteRequiresOwner 验证非 owner 删除在调用 store 之前被拒绝。
func TestScreenDeleteRequiresOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session.SignIn(model.User{ID: "u2", Username: "bo"})

	err := f.screen.Delete(ctx, f.ids[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermission)
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "delete", perr.Action)
	assert.Zero(t, f.spy.deletes)
	assert.Equal(t, noticeOwnerOnly, f.rec.last().Notice)
	assert.False(t, f.rec.last().Current.OwnedByMe)

	photos, err := f.store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, photos, 3)
}

func TestScreenSignedOutMutationsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.session.SignOut()

	assert.ErrorIs(t, f.screen.Like(ctx), ErrPermission)
	assert.ErrorIs(t, f.screen.Delete(ctx, f.ids[0]), ErrPermission)
	assert.Zero(t, f.spy.toggles)
	assert.Zero(t, f.spy.deletes)
}

// TestScreenLikeFailureKeepsSnapshot 验证写失败时保留最后一次成功的快照并提示。
func TestScreenLikeFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.setFail(true)

	err := f.screen.Like(ctx)
	assert.ErrorIs(t, err, photostore.ErrPersistence)

	frame := f.rec.last()
	assert.Equal(t, noticeLikeFailed, frame.Notice)
	assert.Equal(t, 0, frame.Current.LikeCount)
	assert.False(t, frame.Current.LikedByMe)
	assert.Equal(t, 3, frame.Length)

	f.backend.setFail(false)
	require.NoError(t, f.screen.Like(ctx))
	assert.Empty(t, f.rec.last().Notice)
	assert.Equal(t, 1, f.rec.last().Current.LikeCount)
}

// TestScreenDeleteViewedPhotoReindexes 验证删除正在查看的照片后 index 向下夹紧。
func TestScreenDeleteViewedPhotoReindexes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.advance(t)

	require.NoError(t, f.screen.Delete(ctx, f.ids[1]))
	frame := f.rec.last()
	assert.Equal(t, 2, frame.Length)
	assert.Equal(t, 0, frame.Index)
	assert.Equal(t, f.ids[0], frame.Current.ID)
	assert.Equal(t, 1, f.spy.deletes)
}

// TestScreenDeleteFailureKeepsRecord 验证删除失败时记录仍在并提示。
func TestScreenDeleteFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.setFail(true)

	err := f.screen.Delete(ctx, f.ids[0])
	assert.ErrorIs(t, err, photostore.ErrPersistence)
	frame := f.rec.last()
	assert.Equal(t, noticeDeleteFailed, frame.Notice)
	assert.Equal(t, 3, frame.Length)
	assert.Equal(t, f.ids[0], frame.Current.ID)
}

// TestScreenReconcilesExternalChanges 验证其它入口的写入触发重新读取，且当前照片保持不变。
func TestScreenReconcilesExternalChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.advance(t)

	_, err := f.store.Add(ctx, model.PhotoInput{URI: "d", OwnerID: "u3"})
	require.NoError(t, err)
	frame := f.rec.last()
	assert.Equal(t, 4, frame.Length)
	assert.Equal(t, 2, frame.Index)
	assert.Equal(t, f.ids[1], frame.Current.ID)

	require.NoError(t, f.store.Delete(ctx, f.ids[2]))
	frame = f.rec.last()
	assert.Equal(t, 3, frame.Length)
	assert.Equal(t, f.ids[1], frame.Current.ID)

	require.NoError(t, f.store.Delete(ctx, f.ids[0]))
	frame = f.rec.last()
	assert.Equal(t, 1, frame.Index)
	assert.Equal(t, f.ids[1], frame.Current.ID)
}

// TestScreenDragInterruptedByExternalAdd 验证拖拽中集合被其它入口修改后，松手不再卡住点击识别。
func TestScreenDragInterruptedByExternalAdd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.advance(t)
	viewed := f.rec.last().Current.ID

	at := time.Unix(10, 0)
	require.NoError(t, f.screen.DragStart(at))
	f.screen.DragMove(-40, at.Add(20*time.Millisecond))

	_, err := f.store.Add(ctx, model.PhotoInput{URI: "d", OwnerID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "at_rest", f.rec.last().State)
	assert.Equal(t, viewed, f.rec.last().Current.ID)

	assert.Equal(t, gesture.IntentNone, f.screen.DragEnd(-40, nil, at.Add(40*time.Millisecond)))

	require.NoError(t, f.screen.Tap(ctx))
	require.NoError(t, f.screen.Tap(ctx))
	assert.Equal(t, 1, f.spy.toggles)

	liked, err := f.store.Get(ctx, viewed)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, liked.LikedBy)

	// 下一次拖拽照常工作
	require.NoError(t, f.screen.DragStart(at.Add(time.Second)))
}

// TestScreenEmptyCollection 验证空集合下拖拽被拒绝且渲染空状态。
func TestScreenEmptyCollection(t *testing.T) {
	ctx := context.Background()
	store := photostore.New(kv.NewInMemoryBackend(), photostore.Options{Logger: log.New(&bytes.Buffer{}, "", 0)})
	rec := &recorder{}
	s := NewScreen(store, identity.NewSession(&model.User{ID: "u1"}), Options{
		Scheduler: &fakeScheduler{},
		Renderer:  rec.render,
		Logger:    log.New(&bytes.Buffer{}, "", 0),
	})
	defer s.Unmount()
	require.NoError(t, s.Mount(ctx))

	frame := rec.last()
	assert.True(t, frame.Empty)
	assert.Equal(t, -1, frame.Index)
	assert.Error(t, s.DragStart(time.Now()))
	require.NoError(t, s.Like(ctx))

	_, err := store.Add(ctx, model.PhotoInput{URI: "x", OwnerID: "u1"})
	require.NoError(t, err)
	frame = rec.last()
	assert.False(t, frame.Empty)
	assert.Equal(t, 0, frame.Index)
}

// blockingStore 让 ToggleLike 停在写入之前，模拟卸载时仍在进行的 store 调用。
type blockingStore struct {
	*photostore.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) ToggleLike(ctx context.Context, id, userID string) (model.Photo, error) {
	close(b.entered)
	<-b.release
	return b.Store.ToggleLike(context.Background(), id, userID)
}

// TestScreenUnmountDiscardsInFlightResults 验证卸载后完成的 store 调用不会再渲染，计时器被取消。
func TestScreenUnmountDiscardsInFlightResults(t *testing.T) {
	ctx := context.Background()
	quiet := log.New(&bytes.Buffer{}, "", 0)
	store := photostore.New(kv.NewInMemoryBackend(), photostore.Options{Logger: quiet})
	p, err := store.Add(ctx, model.PhotoInput{URI: "x", OwnerID: "u1"})
	require.NoError(t, err)

	blocking := &blockingStore{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	sched := &fakeScheduler{}
	rec := &recorder{}
	s := NewScreen(blocking, identity.NewSession(&model.User{ID: "u2"}), Options{
		Scheduler: sched,
		Renderer:  rec.render,
		Logger:    quiet,
	})
	require.NoError(t, s.Mount(ctx))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Like(ctx) }()
	<-blocking.entered

	require.NoError(t, s.Tap(ctx))
	s.Unmount()
	rendered := rec.count()

	close(blocking.release)
	assert.ErrorIs(t, <-errCh, ErrUnmounted)

	sched.mu.Lock()
	for _, timer := range sched.timers {
		assert.True(t, timer.stopped, "timers must be cancelled on unmount")
	}
	sched.mu.Unlock()
	sched.fireAll()

	assert.Equal(t, rendered, rec.count())
	assert.ErrorIs(t, s.Focus(ctx), ErrUnmounted)

	// 写入本身已经提交，只是结果不再反映到已卸载的 screen 上。
	stored, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LikeCount)
}
