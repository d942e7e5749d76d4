package paging

import (
	"errors"
	"math"
	"time"

	"spotted/server/internal/gesture"
)

var (
	// ErrBusy 表示拖拽或动画进行中，新的拖拽被拒绝。
	ErrBusy = errors.New("paging controller busy")
	// ErrEmpty 表示集合为空，没有可拖拽的内容。
	ErrEmpty = errors.New("paging collection empty")
	// ErrDisposed 表示 controller 已释放。
	ErrDisposed = errors.New("paging controller disposed")
)

// State 是翻页状态机的状态。
type State int

const (
	AtRest State = iota
	Dragging
	Animating
)

func (s State) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Animating:
		return "animating"
	default:
		return "at_rest"
	}
}

// Direction 只在已提交的翻页动画期间非 none。
type Direction int

const (
	DirectionNone Direction = iota
	Advancing
	Retreating
)

func (d Direction) String() string {
	switch d {
	case Advancing:
		return "advancing"
	case Retreating:
		return "retreating"
	default:
		return "none"
	}
}

// Config 动画参数。
type Config struct {
	// RubberBandRatio 越过首尾时允许的最大位移占视口高度的比例。
	RubberBandRatio float64
	// CommitDuration 翻页动画时长（ease-out）。
	CommitDuration time.Duration
	// SettleTau 取消回弹的指数衰减时间常数。
	SettleTau time.Duration
	// SettleEpsilon 回弹位移小于该值（px）时视为静止。
	SettleEpsilon float64
}

func DefaultConfig() Config {
	return Config{
		RubberBandRatio: 0.15,
		CommitDuration:  250 * time.Millisecond,
		SettleTau:       60 * time.Millisecond,
		SettleEpsilon:   0.5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RubberBandRatio <= 0 {
		c.RubberBandRatio = def.RubberBandRatio
	}
	if c.CommitDuration <= 0 {
		c.CommitDuration = def.CommitDuration
	}
	if c.SettleTau <= 0 {
		c.SettleTau = def.SettleTau
	}
	if c.SettleEpsilon <= 0 {
		c.SettleEpsilon = def.SettleEpsilon
	}
	return c
}

// Snapshot 是 controller 的只读快照。
type Snapshot struct {
	Index     int
	Length    int
	Offset    float64
	Direction Direction
	State     State
}

// Controller 持有 currentIndex 与动画值，把手势意图转换成翻页。
//
// 状态机：
// - AtRest + DragStart → Dragging（其它状态返回 ErrBusy）
// - Dragging + Release(Advance|Retreat) → Animating(advancing|retreating)，到达首尾时按 Cancel 处理
// - Dragging + Release(Cancel) → Animating(none)，回弹到 0
// - Animating 完成 → AtRest；只有提交的翻页会改变 currentIndex
//
// Controller 不是并发安全的，调用方需要保证串行访问。
type Controller struct {
	cfg      Config
	viewport float64

	length int
	index  int

	state     State
	direction Direction
	offset    float64

	animFrom    float64
	animTo      float64
	animElapsed time.Duration

	onCommit []func(index int)
	disposed bool
}

// NewController 创建 controller；集合为空时 index 为 -1。
func NewController(cfg Config, length int, viewportHeight float64) *Controller {
	c := &Controller{
		cfg:      cfg.withDefaults(),
		viewport: viewportHeight,
		length:   length,
		index:    -1,
	}
	if length > 0 {
		c.index = 0
	}
	return c
}

// OnCommit 注册翻页完成监听，参数为新的 index。
func (c *Controller) OnCommit(fn func(index int)) {
	c.onCommit = append(c.onCommit, fn)
}

func (c *Controller) SetViewport(height float64) {
	if height > 0 {
		c.viewport = height
	}
}

func (c *Controller) Viewport() float64 { return c.viewport }

func (c *Controller) Index() int { return c.index }

func (c *Controller) Length() int { return c.length }

func (c *Controller) State() State { return c.state }

func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Index:     c.index,
		Length:    c.length,
		Offset:    c.offset,
		Direction: c.direction,
		State:     c.state,
	}
}

// DragStart 进入 Dragging。
func (c *Controller) DragStart() error {
	if c.disposed {
		return ErrDisposed
	}
	if c.length == 0 {
		return ErrEmpty
	}
	if c.state != AtRest {
		return ErrBusy
	}
	c.state = Dragging
	c.offset = 0
	return nil
}

// DragMove 让 offset 跟随累计位移 dy；越过首尾时限制在橡皮筋范围内。
func (c *Controller) DragMove(dy float64) {
	if c.disposed || c.state != Dragging {
		return
	}
	band := c.cfg.RubberBandRatio * c.viewport
	if c.index <= 0 && dy > band {
		dy = band
	}
	if c.index >= c.length-1 && dy < -band {
		dy = -band
	}
	c.offset = dy
}

// Release 结束拖拽并启动动画，返回实际生效的意图（首尾处的翻页会降级为 Cancel）。
func (c *Controller) Release(intent gesture.Intent) gesture.Intent {
	if c.disposed || c.state != Dragging {
		return gesture.IntentNone
	}

	switch intent {
	case gesture.Advance:
		if c.index < c.length-1 {
			c.startCommit(Advancing, -c.viewport)
			return gesture.Advance
		}
	case gesture.Retreat:
		if c.index > 0 {
			c.startCommit(Retreating, c.viewport)
			return gesture.Retreat
		}
	}

	c.startSettle()
	return gesture.Cancel
}

func (c *Controller) startCommit(dir Direction, target float64) {
	c.state = Animating
	c.direction = dir
	c.animFrom = c.offset
	c.animTo = target
	c.animElapsed = 0
}

func (c *Controller) startSettle() {
	c.state = Animating
	c.direction = DirectionNone
	c.animFrom = c.offset
	c.animTo = 0
	c.animElapsed = 0
	if math.Abs(c.offset) < c.cfg.SettleEpsilon {
		c.rest()
	}
}

// Step 推进动画 dt；翻页完成时返回 true。
func (c *Controller) Step(dt time.Duration) bool {
	if c.disposed || c.state != Animating || dt <= 0 {
		return false
	}
	c.animElapsed += dt

	if c.direction == DirectionNone {
		c.offset *= math.Exp(-dt.Seconds() / c.cfg.SettleTau.Seconds())
		if math.Abs(c.offset) < c.cfg.SettleEpsilon {
			c.rest()
		}
		return false
	}

	t := float64(c.animElapsed) / float64(c.cfg.CommitDuration)
	if t >= 1 {
		c.complete()
		return true
	}
	eased := 1 - math.Pow(1-t, 3)
	c.offset = c.animFrom + (c.animTo-c.animFrom)*eased
	return false
}

func (c *Controller) complete() {
	switch c.direction {
	case Advancing:
		c.index++
	case Retreating:
		c.index--
	}
	c.clampIndex()
	c.rest()

	index := c.index
	for _, fn := range c.onCommit {
		fn(index)
	}
}

func (c *Controller) rest() {
	c.state = AtRest
	c.direction = DirectionNone
	c.offset = 0
	c.animFrom = 0
	c.animTo = 0
	c.animElapsed = 0
}

// Animating 报告是否有动画在进行。
func (c *Controller) Animating() bool {
	return c.state == Animating
}

// CancelAnimation 立即回到静止，不提交翻页。
func (c *Controller) CancelAnimation() {
	if c.state != AtRest {
		c.rest()
	}
}

// Dispose 取消动画，之后的事件全部忽略。
func (c *Controller) Dispose() {
	c.CancelAnimation()
	c.disposed = true
	c.onCommit = nil
}

// CollectionShrunk 在 removedPos 处的记录被删除后重新定位。
// 删除位置不晚于当前 index 时 index 减一，随后夹到 [0, newLen-1]；集合为空时 index 为 -1。
func (c *Controller) CollectionShrunk(removedPos, newLen int) {
	c.CancelAnimation()
	c.length = newLen
	if newLen <= 0 {
		c.length = 0
		c.index = -1
		return
	}
	if removedPos <= c.index {
		c.index--
	}
	c.clampIndex()
}

// CollectionGrew 在 insertedPos 处插入记录后重新定位，保持当前看到的照片不变。
func (c *Controller) CollectionGrew(insertedPos, newLen int) {
	wasEmpty := c.length == 0 || c.index < 0
	c.length = newLen
	if newLen <= 0 {
		c.length = 0
		c.index = -1
		return
	}
	if wasEmpty {
		c.CancelAnimation()
		c.index = 0
		return
	}
	if insertedPos <= c.index {
		c.CancelAnimation()
		c.index++
	}
	c.clampIndex()
}

func (c *Controller) clampIndex() {
	if c.length == 0 {
		c.index = -1
		return
	}
	if c.index < 0 {
		c.index = 0
	}
	if c.index > c.length-1 {
		c.index = c.length - 1
	}
}
