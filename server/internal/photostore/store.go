package photostore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"spotted/server/internal/kv"
	"spotted/server/internal/model"
	"spotted/server/internal/timeline"

	"github.com/google/uuid"
)

// DefaultKey 是集合落盘使用的固定 key，与旧客户端保持一致。
const DefaultKey = "spotted_app_photos"

// Options 配置 Store 的可选依赖，零值即可用。
type Options struct {
	// Key 覆盖默认的存储 key。
	Key string
	// Changes 记录已提交的变更；为 nil 时只通知订阅者。
	Changes timeline.Store
	Now     func() time.Time
	NewID   func() string
	Logger  *log.Logger
}

// Store 是照片记录及其点赞状态的唯一事实来源。
//
// 职责与契约：
// - 单一临界区：所有读-改-写都在 mu 内完成，同一进程内并发的 ToggleLike 不会丢更新。
// - 先写后认：新集合落盘成功后才替换内存视图，失败时保持最后一次成功落盘的状态。
// - 整体写入：每次变更重写整个集合，持久化层没有局部更新。
type Store struct {
	mu      sync.Mutex
	backend kv.Backend
	key     string
	changes timeline.Store
	now     func() time.Time
	newID   func() string
	logger  *log.Logger

	loaded bool
	photos []model.Photo

	subMu   sync.RWMutex
	subs    map[int]func(model.Change)
	nextSub int
}

func New(backend kv.Backend, opts Options) *Store {
	s := &Store{
		backend: backend,
		key:     opts.Key,
		changes: opts.Changes,
		now:     opts.Now,
		newID:   opts.NewID,
		logger:  opts.Logger,
		subs:    make(map[int]func(model.Change)),
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s
}

// Key 返回集合的存储 key，也是变更日志的 stream 名。
func (s *Store) Key() string {
	return s.key
}

// GetAll 返回全部记录（最新优先）的深拷贝；没有记录时返回空切片。
func (s *Store) GetAll(ctx context.Context) ([]model.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return clonePhotos(s.photos), nil
}

// Get 返回单条记录。
func (s *Store) Get(ctx context.Context, id string) (model.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return model.Photo{}, err
	}
	idx := indexOf(s.photos, id)
	if idx < 0 {
		return model.Photo{}, ErrPhotoNotFound
	}
	return s.photos[idx].Clone(), nil
}

// Add 创建新记录并落盘，返回创建出的记录。
// 注意：每次调用都会生成新 id，调用方重试前需要确认失败发生在落盘之前。
func (s *Store) Add(ctx context.Context, in model.PhotoInput) (model.Photo, error) {
	if strings.TrimSpace(in.URI) == "" {
		return model.Photo{}, fmt.Errorf("%w: uri required", ErrInvalidInput)
	}
	if in.OwnerID == "" {
		return model.Photo{}, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}

	photo, change, err := s.add(ctx, in)
	if err != nil {
		return model.Photo{}, err
	}
	s.publish(change)
	return photo, nil
}

func (s *Store) add(ctx context.Context, in model.PhotoInput) (model.Photo, model.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return model.Photo{}, model.Change{}, err
	}

	// createdAt 随插入顺序单调不减，墙钟回拨也不会打乱信息流。
	createdAt := s.now().UTC()
	if len(s.photos) > 0 && s.photos[0].CreatedAt.After(createdAt) {
		createdAt = s.photos[0].CreatedAt
	}

	photo := model.Photo{
		ID:        s.newID(),
		URI:       in.URI,
		OwnerID:   in.OwnerID,
		OwnerName: in.OwnerName,
		CreatedAt: createdAt,
		LikeCount: 0,
		LikedBy:   []string{},
	}
	if len(in.Tags) > 0 {
		photo.Tags = append([]string(nil), in.Tags...)
	}

	next := make([]model.Photo, 0, len(s.photos)+1)
	next = append(next, photo)
	next = append(next, s.photos...)

	if err := s.persist(ctx, "add", next); err != nil {
		return model.Photo{}, model.Change{}, err
	}
	s.photos = next

	change := s.record(ctx, model.Change{
		Kind:     model.ChangePhotoAdded,
		PhotoID:  photo.ID,
		Position: 0,
		Length:   len(next),
		UserID:   in.OwnerID,
	})
	s.logger.Printf("[Store] photo added: id=%s owner=%s total=%d", photo.ID, photo.OwnerID, len(next))
	return photo.Clone(), change, nil
}

// Delete 删除指定记录；记录不存在时什么也不做（不报错、不写盘）。
func (s *Store) Delete(ctx context.Context, id string) error {
	change, changed, err := s.delete(ctx, id)
	if err != nil {
		return err
	}
	if changed {
		s.publish(change)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, id string) (model.Change, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return model.Change{}, false, err
	}

	idx := indexOf(s.photos, id)
	if idx < 0 {
		return model.Change{}, false, nil
	}

	next := make([]model.Photo, 0, len(s.photos)-1)
	next = append(next, s.photos[:idx]...)
	next = append(next, s.photos[idx+1:]...)

	if err := s.persist(ctx, "delete", next); err != nil {
		return model.Change{}, false, err
	}
	s.photos = next

	change := s.record(ctx, model.Change{
		Kind:     model.ChangePhotoDeleted,
		PhotoID:  id,
		Position: idx,
		Length:   len(next),
	})
	s.logger.Printf("[Store] photo deleted: id=%s position=%d total=%d", id, idx, len(next))
	return change, true, nil
}

// ToggleLike 切换 userID 对记录的点赞状态，返回更新后的记录。
// 计数与集合一起落盘；旧记录在切换前先补齐为空集合。
func (s *Store) ToggleLike(ctx context.Context, id, userID string) (model.Photo, error) {
	if userID == "" {
		return model.Photo{}, fmt.Errorf("%w: user required", ErrInvalidInput)
	}

	photo, change, err := s.toggleLike(ctx, id, userID)
	if err != nil {
		return model.Photo{}, err
	}
	s.publish(change)
	return photo, nil
}

func (s *Store) toggleLike(ctx context.Context, id, userID string) (model.Photo, model.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return model.Photo{}, model.Change{}, err
	}

	idx := indexOf(s.photos, id)
	if idx < 0 {
		return model.Photo{}, model.Change{}, ErrPhotoNotFound
	}

	updated := s.photos[idx].WithLikeToggled(userID)
	next := make([]model.Photo, len(s.photos))
	copy(next, s.photos)
	next[idx] = updated

	if err := s.persist(ctx, "toggle_like", next); err != nil {
		return model.Photo{}, model.Change{}, err
	}
	s.photos = next

	change := s.record(ctx, model.Change{
		Kind:     model.ChangeLikeToggled,
		PhotoID:  id,
		Position: idx,
		Length:   len(next),
		UserID:   userID,
	})
	return updated.Clone(), change, nil
}

// Subscribe 注册变更监听，返回取消函数。
// 回调在 store 锁之外执行，可以安全地再次调用 store；跨调用方的通知顺序不保证，
// 订阅方应以重新读取的快照为准。
func (s *Store) Subscribe(fn func(model.Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) publish(change model.Change) {
	s.subMu.RLock()
	subs := make([]func(model.Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(change)
	}
}

// ensureLoaded 首次访问时从后端加载集合；调用方必须持有 mu。
func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	data, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			s.photos = []model.Photo{}
			s.loaded = true
			return nil
		}
		return &PersistenceError{Op: "read", Err: err}
	}

	photos, skipped, err := decodeCollection(data)
	if err != nil {
		return &PersistenceError{Op: "decode", Err: err}
	}
	if skipped > 0 {
		s.logger.Printf("[Store] ⚠️  skipped %d records without id", skipped)
	}

	s.photos = photos
	s.loaded = true
	s.logger.Printf("[Store] loaded %d photos from key %s", len(photos), s.key)
	return nil
}

// persist 整体写入新集合；调用方必须持有 mu。
func (s *Store) persist(ctx context.Context, op string, photos []model.Photo) error {
	data, err := encodeCollection(photos)
	if err != nil {
		return &PersistenceError{Op: op, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := s.backend.Set(ctx, s.key, data); err != nil {
		s.logger.Printf("[Store] ❌ %s write failed: %v", op, err)
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// record 把已提交的变更写入日志并补齐 seq；日志写失败只记录，不影响已落盘的结果。
func (s *Store) record(ctx context.Context, change model.Change) model.Change {
	change.At = s.now().UTC()
	if change.EventID == "" {
		change.EventID = uuid.New().String()
	}
	if s.changes == nil {
		return change
	}
	seq, err := s.changes.Append(ctx, s.key, &change)
	if err != nil {
		s.logger.Printf("[Store] ⚠️  change log append failed: kind=%s err=%v", change.Kind, err)
		return change
	}
	change.Seq = seq
	return change
}

func indexOf(photos []model.Photo, id string) int {
	for i, p := range photos {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func clonePhotos(photos []model.Photo) []model.Photo {
	out := make([]model.Photo, len(photos))
	for i, p := range photos {
		out[i] = p.Clone()
	}
	return out
}
