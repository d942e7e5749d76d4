package gesture

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrDisposed 表示 classifier 已关闭后仍有回调到达。
var ErrDisposed = errors.New("gesture classifier disposed")

var errStaleTimer = errors.New("stale tap timer")

// Intent 是从原始指针事件中识别出的用户意图。
type Intent int

const (
	IntentNone Intent = iota
	SingleTap
	DoubleTap
	Advance
	Retreat
	Cancel
)

func (i Intent) String() string {
	switch i {
	case SingleTap:
		return "single_tap"
	case DoubleTap:
		return "double_tap"
	case Advance:
		return "advance"
	case Retreat:
		return "retreat"
	case Cancel:
		return "cancel"
	default:
		return "none"
	}
}

// Config 手势识别参数。
type Config struct {
	// TapWindow 双击判定窗口。
	TapWindow time.Duration
	// DistanceRatio 提交翻页所需位移占视口高度的比例。
	DistanceRatio float64
	// VelocityThreshold 提交翻页所需的最小松手速度（px/s）。
	VelocityThreshold float64
	// VelocityWindow 客户端未上报速度时用于估算的采样窗口。
	VelocityWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		TapWindow:         300 * time.Millisecond,
		DistanceRatio:     0.2,
		VelocityThreshold: 500,
		VelocityWindow:    100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TapWindow <= 0 {
		c.TapWindow = def.TapWindow
	}
	if c.DistanceRatio <= 0 {
		c.DistanceRatio = def.DistanceRatio
	}
	if c.VelocityThreshold <= 0 {
		c.VelocityThreshold = def.VelocityThreshold
	}
	if c.VelocityWindow <= 0 {
		c.VelocityWindow = def.VelocityWindow
	}
	return c
}

type tapState int

const (
	tapIdle tapState = iota
	tapAwaitingSecond
)

// Classifier 把指针事件转换为意图。
//
// 状态机：
// - Idle + tap → 启动计时器 → AwaitingSecondTap
// - AwaitingSecondTap + tap（窗口内）→ DoubleTap，取消计时器 → Idle
// - AwaitingSecondTap + 计时器到期 → SingleTap（通过 onSingleTap 异步送出）→ Idle
// - 拖拽开始时取消待定的单击；拖拽期间的 tap 被忽略
type Classifier struct {
	mu     sync.Mutex
	cfg    Config
	sched  Scheduler
	logger *log.Logger

	onSingleTap func()

	state    tapState
	timer    Timer
	gen      uint64
	dragging bool
	disposed bool
	tracker  *VelocityTracker
}

// NewClassifier 创建 classifier。onSingleTap 在单击窗口到期时调用，
// 调用所在的 goroutine 由 sched 决定。
func NewClassifier(cfg Config, sched Scheduler, onSingleTap func(), logger *log.Logger) *Classifier {
	cfg = cfg.withDefaults()
	if sched == nil {
		sched = RealScheduler{}
	}
	if logger == nil {
		logger = log.Default()
	}
	if onSingleTap == nil {
		onSingleTap = func() {}
	}
	return &Classifier{
		cfg:         cfg,
		sched:       sched,
		logger:      logger,
		onSingleTap: onSingleTap,
		tracker:     NewVelocityTracker(cfg.VelocityWindow),
	}
}

// Config 返回生效的参数。
func (c *Classifier) Config() Config {
	return c.cfg
}

// Tap 处理一次点击。窗口内的第二次点击立即返回 DoubleTap；
// 第一次点击返回 IntentNone，单击结果在窗口到期后经回调送出。
func (c *Classifier) Tap() Intent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || c.dragging {
		return IntentNone
	}

	switch c.state {
	case tapAwaitingSecond:
		c.stopTimerLocked()
		c.state = tapIdle
		return DoubleTap
	default:
		c.gen++
		gen := c.gen
		c.state = tapAwaitingSecond
		c.timer = c.sched.AfterFunc(c.cfg.TapWindow, func() { c.expire(gen) })
		return IntentNone
	}
}

func (c *Classifier) expire(gen uint64) {
	c.mu.Lock()
	err := c.checkLiveLocked(gen)
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, ErrDisposed) {
			c.logger.Printf("[Gesture] ⚠️  tap timer fired after close, discarded: %v", err)
		}
		return
	}
	c.state = tapIdle
	c.timer = nil
	cb := c.onSingleTap
	c.mu.Unlock()

	cb()
}

func (c *Classifier) checkLiveLocked(gen uint64) error {
	if c.disposed {
		return ErrDisposed
	}
	if gen != c.gen || c.state != tapAwaitingSecond {
		return errStaleTimer
	}
	return nil
}

// DragStart 开始一次拖拽；待定的单击被取消。
func (c *Classifier) DragStart(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	if c.state == tapAwaitingSecond {
		c.stopTimerLocked()
		c.state = tapIdle
	}
	c.dragging = true
	c.tracker.Reset()
	c.tracker.Add(at, 0)
}

// DragMove 记录拖拽中的累计位移 dy。
func (c *Classifier) DragMove(dy float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || !c.dragging {
		return
	}
	c.tracker.Add(at, dy)
}

// DragEnd 在松手时分类拖拽。velocity 为 nil 时用最近的采样估算。
func (c *Classifier) DragEnd(dy float64, velocity *float64, at time.Time, viewportHeight float64) Intent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || !c.dragging {
		return IntentNone
	}
	c.dragging = false

	var v float64
	if velocity != nil {
		v = *velocity
	} else {
		c.tracker.Add(at, dy)
		v = c.tracker.Velocity()
	}
	return ClassifyRelease(dy, v, viewportHeight, c.cfg.DistanceRatio, c.cfg.VelocityThreshold)
}

// CancelDrag 放弃进行中的拖拽且不分类，之后的点击恢复正常识别。
func (c *Classifier) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dragging {
		return
	}
	c.dragging = false
	c.tracker.Reset()
}

// Dragging 报告是否处于拖拽中。
func (c *Classifier) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging
}

// Close 取消计时器；之后到达的回调会被丢弃。
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	c.disposed = true
	c.dragging = false
	c.stopTimerLocked()
	c.state = tapIdle
}

func (c *Classifier) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// ClassifyRelease 根据净位移 delta 与松手速度 velocity 分类拖拽。
// 向上为负：delta 足够负且速度足够负时翻到下一张，反之翻回上一张，其余一律取消。
func ClassifyRelease(delta, velocity, viewportHeight, ratio, threshold float64) Intent {
	distance := ratio * viewportHeight
	switch {
	case delta < -distance && velocity < -threshold:
		return Advance
	case delta > distance && velocity > threshold:
		return Retreat
	default:
		return Cancel
	}
}
