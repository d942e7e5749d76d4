package feed

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"spotted/server/internal/gesture"
	"spotted/server/internal/identity"
	"spotted/server/internal/model"
	"spotted/server/internal/paging"
	"spotted/server/internal/photostore"
)

const (
	noticeLoadFailed    = "Could not load photos"
	noticeLikeFailed    = "Could not update like"
	noticeDeleteFailed  = "Could not delete photo"
	noticeSignInToLike  = "Sign in to like photos"
	noticeSignInDelete  = "Sign in to delete photos"
	noticeOwnerOnly     = "Only the owner can delete this photo"
	defaultLikeBurst    = 900 * time.Millisecond
	defaultViewportSize = 800
)

// Store 是 screen 使用的 photo store 能力。
type Store interface {
	GetAll(ctx context.Context) ([]model.Photo, error)
	Delete(ctx context.Context, id string) error
	ToggleLike(ctx context.Context, id, userID string) (model.Photo, error)
	Subscribe(fn func(model.Change)) func()
}

// Options 配置 Screen，零值即可用。
type Options struct {
	Gesture gesture.Config
	Paging  paging.Config
	// LikeBurst 双击点赞后心形动画的显示时长。
	LikeBurst time.Duration
	// Viewport 视口高度（px），客户端可以之后通过 SetViewport 更新。
	Viewport float64
	// Scheduler 创建单击窗口与点赞动画的计时器。
	Scheduler gesture.Scheduler
	// Dispatch 把异步回调（store 变更、登录状态变化）投递到宿主的串行循环；默认直接执行。
	Dispatch func(fn func())
	// Renderer 每次状态变化后收到最新的渲染帧。
	Renderer func(model.RenderFrame)
	Now      func() time.Time
	Logger   *log.Logger
}

// Screen 是一个已挂载的信息流实例，把 store、手势识别与翻页 controller 组合起来。
//
// 职责与契约：
// - 读：Store → Controller → 渲染帧
// - 写：用户操作 → Store 变更 → 订阅通知 → 重新读取快照
// - 权限检查在调用 store 之前完成
// - store 调用期间不持有 mu；卸载后返回的结果直接丢弃
type Screen struct {
	mu sync.Mutex

	store      Store
	identity   identity.Provider
	classifier *gesture.Classifier
	ctrl       *paging.Controller
	sched      gesture.Scheduler
	dispatch   func(fn func())
	renderer   func(model.RenderFrame)
	now        func() time.Time
	logger     *log.Logger
	likeBurst  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	photos    []model.Photo
	overlay   bool
	burst     bool
	burstGen  uint64
	burstTmr  gesture.Timer
	notice    string
	mounted   bool
	unmounted bool

	unsubscribeStore    func()
	unsubscribeIdentity func()
}

func NewScreen(store Store, id identity.Provider, opts Options) *Screen {
	s := &Screen{
		store:     store,
		identity:  id,
		sched:     opts.Scheduler,
		dispatch:  opts.Dispatch,
		renderer:  opts.Renderer,
		now:       opts.Now,
		logger:    opts.Logger,
		likeBurst: opts.LikeBurst,
		photos:    []model.Photo{},
	}
	if s.identity == nil {
		s.identity = identity.NewSession(nil)
	}
	if s.sched == nil {
		s.sched = gesture.RealScheduler{}
	}
	if s.dispatch == nil {
		s.dispatch = func(fn func()) { fn() }
	}
	if s.renderer == nil {
		s.renderer = func(model.RenderFrame) {}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.likeBurst <= 0 {
		s.likeBurst = defaultLikeBurst
	}
	viewport := opts.Viewport
	if viewport <= 0 {
		viewport = defaultViewportSize
	}

	s.classifier = gesture.NewClassifier(opts.Gesture, s.sched, s.onSingleTap, s.logger)
	s.ctrl = paging.NewController(opts.Paging, 0, viewport)
	s.ctrl.OnCommit(s.onCommitLocked)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Mount 订阅 store 与身份变化，并读取第一份快照。
// 读取失败时 screen 仍然挂载，渲染帧中带有提示。
func (s *Screen) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return ErrUnmounted
	}
	if !s.mounted {
		s.mounted = true
		s.unsubscribeStore = s.store.Subscribe(s.onStoreChange)
		s.unsubscribeIdentity = s.identity.OnAuthStateChanged(s.onAuthStateChanged)
	}
	s.mu.Unlock()

	return s.refresh(ctx)
}

// Focus 重新读取 store（回到前台、下拉刷新）。
func (s *Screen) Focus(ctx context.Context) error {
	return s.refresh(ctx)
}

func (s *Screen) refresh(ctx context.Context) error {
	if s.isUnmounted() {
		return ErrUnmounted
	}

	photos, err := s.store.GetAll(ctx)

	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return ErrUnmounted
	}
	if err != nil {
		s.notice = noticeLoadFailed
		kept := len(s.photos)
		frame := s.frameLocked()
		s.mu.Unlock()
		s.logger.Printf("[Feed] ❌ refresh failed, keeping %d photos: %v", kept, err)
		s.renderer(frame)
		return err
	}
	s.reconcileLocked(photos)
	if s.notice == noticeLoadFailed {
		s.notice = ""
	}
	frame := s.frameLocked()
	s.mu.Unlock()

	s.renderer(frame)
	return nil
}

// reconcileLocked 按 id 对比新旧快照：先按原位置倒序应用删除，再按新位置正序应用插入，
// 让 controller 停留在同一张照片上。
func (s *Screen) reconcileLocked(next []model.Photo) {
	prev := s.photos

	nextIDs := make(map[string]struct{}, len(next))
	for _, p := range next {
		nextIDs[p.ID] = struct{}{}
	}
	prevIDs := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		prevIDs[p.ID] = struct{}{}
	}

	length := len(prev)
	for i := len(prev) - 1; i >= 0; i-- {
		if _, ok := nextIDs[prev[i].ID]; ok {
			continue
		}
		length--
		s.ctrl.CollectionShrunk(i, length)
	}
	for i, p := range next {
		if _, ok := prevIDs[p.ID]; ok {
			continue
		}
		length++
		s.ctrl.CollectionGrew(i, length)
	}

	s.photos = next
	if len(next) == 0 {
		s.overlay = false
	}
	if s.ctrl.State() != paging.Dragging && s.classifier.Dragging() {
		s.classifier.CancelDrag()
		s.logger.Printf("[Feed] ⚠️  drag interrupted by collection change")
	}
}

// DragStart 开始拖拽；动画进行中或集合为空时返回 controller 的错误。
func (s *Screen) DragStart(at time.Time) error {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return ErrUnmounted
	}
	if err := s.ctrl.DragStart(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.classifier.DragStart(at)
	frame := s.frameLocked()
	s.mu.Unlock()

	s.renderer(frame)
	return nil
}

// DragMove 更新累计位移 dy（向上为负）。
func (s *Screen) DragMove(dy float64, at time.Time) {
	s.mu.Lock()
	if s.unmounted || s.ctrl.State() != paging.Dragging {
		s.mu.Unlock()
		return
	}
	s.classifier.DragMove(dy, at)
	s.ctrl.DragMove(dy)
	frame := s.frameLocked()
	s.mu.Unlock()

	s.renderer(frame)
}

// DragEnd 松手：分类意图并启动翻页或回弹动画，返回实际生效的意图。
// velocity 为 nil 时由 classifier 估算。
func (s *Screen) DragEnd(dy float64, velocity *float64, at time.Time) gesture.Intent {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return gesture.IntentNone
	}
	if s.ctrl.State() != paging.Dragging {
		// 拖拽已被集合变化打断
		s.classifier.CancelDrag()
		s.mu.Unlock()
		return gesture.IntentNone
	}
	intent := s.classifier.DragEnd(dy, velocity, at, s.ctrl.Viewport())
	s.ctrl.DragMove(dy)
	applied := s.ctrl.Release(intent)
	frame := s.frameLocked()
	s.mu.Unlock()

	if applied != intent {
		s.logger.Printf("[Feed] %s rejected at edge, settling back", intent)
	}
	s.renderer(frame)
	return applied
}

// Frame 推进动画 dt。
func (s *Screen) Frame(dt time.Duration) {
	s.mu.Lock()
	if s.unmounted || !s.ctrl.Animating() {
		s.mu.Unlock()
		return
	}
	s.ctrl.Step(dt)
	frame := s.frameLocked()
	s.mu.Unlock()

	s.renderer(frame)
}

// Animating 报告是否需要继续驱动帧。
func (s *Screen) Animating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unmounted && s.ctrl.Animating()
}

// onCommitLocked 由 controller 在 Step 内调用，调用方持有 mu。
func (s *Screen) onCommitLocked(index int) {
	s.overlay = false
	s.clearBurstLocked()
	s.logger.Printf("[Feed] committed page: index=%d/%d", index, len(s.photos))
}

// Tap 处理点击。窗口内的第二次点击立即触发点赞；单击在窗口到期后切换浮层。
func (s *Screen) Tap(ctx context.Context) error {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return ErrUnmounted
	}
	intent := s.classifier.Tap()
	s.mu.Unlock()

	if intent != gesture.DoubleTap {
		return nil
	}
	return s.like(ctx, true)
}

func (s *Screen) onSingleTap() {
	s.dispatch(func() {
		s.mu.Lock()
		if s.unmounted {
			s.mu.Unlock()
			return
		}
		if len(s.photos) > 0 {
			s.overlay = !s.overlay
		}
		frame := s.frameLocked()
		s.mu.Unlock()

		s.renderer(frame)
	})
}

// Like 切换当前照片的点赞（浮层按钮，不带心形动画）。
func (s *Screen) Like(ctx context.Context) error {
	return s.like(ctx, false)
}

func (s *Screen) like(ctx context.Context, burst bool) error {
	user := s.identity.CurrentUser()

	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return ErrUnmounted
	}
	if user == nil {
		err := &PermissionError{Action: "like", Reason: ReasonSignedOut}
		s.notice = noticeSignInToLike
		frame := s.frameLocked()
		s.mu.Unlock()
		s.renderer(frame)
		return err
	}
	active, ok := s.activeLocked()
	s.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := s.store.ToggleLike(ctx, active.ID, user.ID)

	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return ErrUnmounted
	}
	if err != nil {
		s.notice = noticeLikeFailed
		frame := s.frameLocked()
		s.mu.Unlock()
		s.logger.Printf("[Feed] ❌ like failed: photo=%s user=%s err=%v", active.ID, user.ID, err)
		s.renderer(frame)
		return err
	}
	s.notice = ""
	if burst {
		s.startBurstLocked()
	}
	s.mu.Unlock()

	return s.refresh(ctx)
}

func (s *Screen) startBurstLocked() {
	s.clearBurstLocked()
	s.burst = true
	gen := s.burstGen
	s.burstTmr = s.sched.AfterFunc(s.likeBurst, func() {
		s.dispatch(func() { s.endBurst(gen) })
	})
}

func (s *Screen) endBurst(gen uint64) {
	s.mu.Lock()
	if s.unmounted || gen != s.burstGen || !s.burst {
		s.mu.Unlock()
		return
	}
	s.burst = false
	s.burstTmr = nil
	frame := s.frameLocked()
	s.mu.Unlock()

	s.renderer(frame)
}

func (s *Screen) clearBurstLocked() {
	if s.burstTmr != nil {
		s.burstTmr.Stop()
		s.burstTmr = nil
	}
	s.burst = false
	s.burstGen++
}

// Delete 删除照片；只有 owner 可以删除，检查在调用 store 之前完成。
func (s *Screen) Delete(ctx context.Context, photoID string) error {
	user := s.identity.CurrentUser()

	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return ErrUnmounted
	}
	photo, ok := s.findLocked(photoID)
	var perr *PermissionError
	switch {
	case user == nil:
		perr = &PermissionError{Action: "delete", Reason: ReasonSignedOut}
		s.notice = noticeSignInDelete
	case !ok:
		s.mu.Unlock()
		return photostore.ErrPhotoNotFound
	case photo.OwnerID != user.ID:
		perr = &PermissionError{Action: "delete", Reason: ReasonNotOwner}
		s.notice = noticeOwnerOnly
	}
	if perr != nil {
		frame := s.frameLocked()
		s.mu.Unlock()
		s.logger.Printf("[Feed] ⚠️  delete rejected: photo=%s reason=%s", photoID, perr.Reason)
		s.renderer(frame)
		return perr
	}
	s.mu.Unlock()

	err := s.store.Delete(ctx, photoID)

	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return ErrUnmounted
	}
	if err != nil {
		s.notice = noticeDeleteFailed
		frame := s.frameLocked()
		s.mu.Unlock()
		s.logger.Printf("[Feed] ❌ delete failed: photo=%s err=%v", photoID, err)
		s.renderer(frame)
		return err
	}
	s.notice = ""
	s.overlay = false
	s.mu.Unlock()

	return s.refresh(ctx)
}

// CloseOverlay 隐藏信息浮层。
func (s *Screen) CloseOverlay() {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return
	}
	s.overlay = false
	frame := s.frameLocked()
	s.mu.Unlock()

	s.renderer(frame)
}

// SetViewport 更新视口高度。
func (s *Screen) SetViewport(height float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.SetViewport(height)
}

// Render 返回当前渲染帧。
func (s *Screen) Render() model.RenderFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameLocked()
}

// Unmount 取消计时器与动画、退订通知；之后完成的 store 调用结果被丢弃。
func (s *Screen) Unmount() {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return
	}
	s.unmounted = true
	s.classifier.Close()
	s.clearBurstLocked()
	s.ctrl.Dispose()
	s.cancel()
	unsubscribeStore := s.unsubscribeStore
	unsubscribeIdentity := s.unsubscribeIdentity
	s.mu.Unlock()

	if unsubscribeStore != nil {
		unsubscribeStore()
	}
	if unsubscribeIdentity != nil {
		unsubscribeIdentity()
	}
	s.logger.Printf("[Feed] unmounted")
}

func (s *Screen) onStoreChange(change model.Change) {
	s.dispatch(func() {
		if err := s.refresh(s.ctx); err != nil && !errors.Is(err, ErrUnmounted) {
			s.logger.Printf("[Feed] ⚠️  refresh after %s failed: %v", change.Kind, err)
		}
	})
}

func (s *Screen) onAuthStateChanged(*model.User) {
	s.dispatch(func() {
		s.mu.Lock()
		if s.unmounted {
			s.mu.Unlock()
			return
		}
		frame := s.frameLocked()
		s.mu.Unlock()

		s.renderer(frame)
	})
}

func (s *Screen) isUnmounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unmounted
}

func (s *Screen) activeLocked() (model.Photo, bool) {
	idx := s.ctrl.Index()
	if idx < 0 || idx >= len(s.photos) {
		return model.Photo{}, false
	}
	return s.photos[idx], true
}

func (s *Screen) findLocked(id string) (model.Photo, bool) {
	for _, p := range s.photos {
		if p.ID == id {
			return p, true
		}
	}
	return model.Photo{}, false
}
