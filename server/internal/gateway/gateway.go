package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"spotted/server/internal/feed"
	"spotted/server/internal/identity"
	"spotted/server/internal/model"
	"spotted/server/internal/paging"

	"github.com/gorilla/websocket"
)

// ViewerConfig 网关配置
type ViewerConfig struct {
	// FrameInterval 动画期间推送帧的间隔
	FrameInterval time.Duration
	// 超时配置
	WriteTimeout time.Duration
	PingInterval time.Duration
	// Feed 透传给 feed.Screen 的参数；Scheduler/Dispatch/Renderer 由网关填充
	Feed feed.Options
}

// Viewer 是一个已挂载信息流的 websocket 宿主
// 职责：
// 1. 维护客户端↔后端的WebSocket连接
// 2. 把客户端指针事件、计时器到期、动画帧、store 变更都串行化到 EventQueue
// 3. 在动画进行时按帧驱动 feed.Screen，并把渲染帧推给客户端
type Viewer struct {
	viewerID string

	// 客户端连接
	clientConn     *websocket.Conn
	clientConnLock sync.Mutex

	screen *feed.Screen
	queue  *EventQueue

	// 状态管理
	closeOnce sync.Once
	closeChan chan struct{}

	// ticking 表示帧循环在运行；只在队列上修改
	ticking atomic.Bool
	// frameGen 标识当前帧循环，旧循环发现代次变化后退出
	frameGen atomic.Uint64
	// frameTimeout 单帧在队列上等待的上限
	frameTimeout time.Duration

	// 序列号生成器（用于ServerMessage）
	seqCounter int64
	seqLock    sync.Mutex

	config ViewerConfig
	logger *log.Logger
}

// NewViewer 创建查看实例；调用 Start 之后才会读取 store 与客户端消息
func NewViewer(viewerID string, clientConn *websocket.Conn, store feed.Store, user identity.Provider, config ViewerConfig, logger *log.Logger) *Viewer {
	if logger == nil {
		logger = log.Default()
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = 16 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}

	v := &Viewer{
		viewerID:   viewerID,
		clientConn: clientConn,
		queue:      NewEventQueue(viewerID, logger),
		closeChan:    make(chan struct{}),
		frameTimeout: time.Second,
		config:       config,
		logger:       logger,
	}

	opts := config.Feed
	opts.Scheduler = v.queue.Scheduler()
	opts.Dispatch = v.queue.Dispatch
	opts.Renderer = v.pushFrame
	if opts.Logger == nil {
		opts.Logger = logger
	}
	v.screen = feed.NewScreen(store, user, opts)
	return v
}

// Start 挂载信息流并启动读循环
func (v *Viewer) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := v.queue.EnqueueSync("mount", func(taskCtx context.Context) error {
		if err := v.screen.Mount(taskCtx); err != nil {
			// 读取失败不断开：渲染帧里已经带有提示，客户端可以 focus 重试
			v.sendErrorToClient(err.Error(), "")
		}
		return nil
	}, 0)
	if err != nil {
		return fmt.Errorf("mount feed: %w", err)
	}

	go v.clientReadLoop()
	go v.pingLoop()

	v.logger.Printf("[Gateway] started for viewer %s", v.viewerID)
	return nil
}

// Done 在连接关闭后返回的 channel 关闭
func (v *Viewer) Done() <-chan struct{} {
	return v.closeChan
}

// Screen 返回底层的 feed.Screen
func (v *Viewer) Screen() *feed.Screen {
	return v.screen
}

// Stats 返回事件队列统计
func (v *Viewer) Stats() map[string]interface{} {
	return v.queue.GetStats()
}

// clientReadLoop 从客户端读取消息
func (v *Viewer) clientReadLoop() {
	defer v.Close()

	v.clientConnLock.Lock()
	conn := v.clientConn
	v.clientConnLock.Unlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-v.closeChan:
			return
		default:
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				v.logger.Printf("[Gateway] client read error: %v", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		if err := v.handleClientEvent(data, time.Now()); err != nil {
			v.logger.Printf("[Gateway] handle client event error: %v", err)
			// 发送错误给客户端，但不断开连接
			v.sendErrorToClient(err.Error(), "")
		}
	}
}

// handleClientEvent 解析客户端事件并投递到队列
func (v *Viewer) handleClientEvent(data []byte, receivedAt time.Time) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal client message: %w", err)
	}

	at := msg.ClientTS
	if at.IsZero() {
		at = receivedAt
	}

	var task Task
	switch msg.Type {
	case EventTypeDragStart:
		task = func(context.Context) error {
			if err := v.screen.DragStart(at); err != nil &&
				!errors.Is(err, paging.ErrBusy) && !errors.Is(err, paging.ErrEmpty) {
				return err
			}
			return nil
		}
	case EventTypeDragMove:
		task = func(context.Context) error {
			v.screen.DragMove(msg.DY, at)
			return nil
		}
	case EventTypeDragEnd:
		task = func(context.Context) error {
			v.screen.DragEnd(msg.DY, msg.VY, at)
			v.startFrames()
			return nil
		}
	case EventTypeTap:
		task = func(ctx context.Context) error {
			return v.reportError(msg.EventID, v.screen.Tap(ctx))
		}
	case EventTypeLike:
		task = func(ctx context.Context) error {
			return v.reportError(msg.EventID, v.screen.Like(ctx))
		}
	case EventTypeDelete:
		if msg.PhotoID == "" {
			return errors.New("photo_id required")
		}
		task = func(ctx context.Context) error {
			return v.reportError(msg.EventID, v.screen.Delete(ctx, msg.PhotoID))
		}
	case EventTypeCloseOverlay:
		task = func(context.Context) error {
			v.screen.CloseOverlay()
			return nil
		}
	case EventTypeFocus:
		task = func(ctx context.Context) error {
			return v.reportError(msg.EventID, v.screen.Focus(ctx))
		}
	case EventTypeViewport:
		if msg.Height <= 0 {
			return errors.New("viewport height must be positive")
		}
		task = func(context.Context) error {
			v.screen.SetViewport(msg.Height)
			return nil
		}
	default:
		return fmt.Errorf("unknown event type: %s", msg.Type)
	}

	return v.queue.Enqueue(string(msg.Type), task)
}

// reportError 把可恢复的操作错误回传给客户端，卸载后的结果直接丢弃
func (v *Viewer) reportError(eventID string, err error) error {
	if err == nil || errors.Is(err, feed.ErrUnmounted) {
		return nil
	}
	v.sendErrorToClient(err.Error(), eventID)
	return err
}

// startFrames 在动画开始后启动帧循环；必须在队列上调用
func (v *Viewer) startFrames() {
	if !v.screen.Animating() {
		return
	}
	if !v.ticking.CompareAndSwap(false, true) {
		return
	}
	go v.frameLoop(v.frameGen.Add(1))
}

// frameLoop 按固定间隔把帧事件投递到队列，动画结束后退出。
// 队列繁忙导致单帧超时不会结束循环，超时的帧仍会在队列上执行。
func (v *Viewer) frameLoop(gen uint64) {
	ticker := time.NewTicker(v.config.FrameInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-v.closeChan:
			v.ticking.Store(false)
			return
		case now := <-ticker.C:
			if v.frameGen.Load() != gen {
				return
			}
			dt := now.Sub(last)
			last = now

			var finished atomic.Bool
			err := v.queue.EnqueueSync("frame", func(context.Context) error {
				if v.frameGen.Load() != gen {
					finished.Store(true)
					return nil
				}
				v.screen.Frame(dt)
				if !v.screen.Animating() {
					v.ticking.Store(false)
					finished.Store(true)
				}
				return nil
			}, v.frameTimeout)
			switch {
			case err == nil:
			case errors.Is(err, ErrSyncTimeout):
				v.logger.Printf("[Viewer] ⚠️  frame delayed for viewer %s: %v", v.viewerID, err)
				continue
			default:
				// 队列已关闭
				v.ticking.Store(false)
				return
			}
			if finished.Load() {
				return
			}
		}
	}
}

// pushFrame 是 feed.Screen 的 Renderer
func (v *Viewer) pushFrame(frame model.RenderFrame) {
	if err := v.sendToClient(&ServerMessage{
		Type:     EventTypeRender,
		Frame:    &frame,
		ServerTS: time.Now(),
	}); err != nil {
		v.logger.Printf("[Gateway] push frame failed: %v", err)
	}
}

// sendToClient 发送消息给客户端
func (v *Viewer) sendToClient(msg *ServerMessage) error {
	// 分配序列号
	v.seqLock.Lock()
	v.seqCounter++
	msg.Seq = v.seqCounter
	v.seqLock.Unlock()

	// 补充时间戳
	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}

	v.clientConnLock.Lock()
	defer v.clientConnLock.Unlock()

	if v.clientConn == nil {
		return errors.New("client connection is closed")
	}

	_ = v.clientConn.SetWriteDeadline(time.Now().Add(v.config.WriteTimeout))
	if err := v.clientConn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}

	return nil
}

// sendErrorToClient 发送错误消息给客户端
func (v *Viewer) sendErrorToClient(errMsg, eventID string) {
	if err := v.sendToClient(&ServerMessage{
		Type:     EventTypeError,
		EventID:  eventID,
		Error:    errMsg,
		ServerTS: time.Now(),
	}); err != nil {
		v.logger.Printf("[Gateway] send error failed: %v", err)
	}
}

// pingLoop 定期发送ping保持连接
func (v *Viewer) pingLoop() {
	ticker := time.NewTicker(v.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.closeChan:
			return
		case <-ticker.C:
			v.clientConnLock.Lock()
			if v.clientConn != nil {
				v.clientConn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			}
			v.clientConnLock.Unlock()
		}
	}
}

// Close 关闭查看实例：卸载信息流、停止队列、关闭连接
func (v *Viewer) Close() error {
	var closeErr error

	v.closeOnce.Do(func() {
		v.logger.Printf("[Gateway] closing viewer %s", v.viewerID)

		close(v.closeChan)

		// 先卸载，正在进行的 store 调用返回后结果会被丢弃
		v.screen.Unmount()
		_ = v.queue.Close()

		closeErr = v.closeClientConn()
	})

	return closeErr
}

// closeClientConn 关闭客户端连接
func (v *Viewer) closeClientConn() error {
	v.clientConnLock.Lock()
	defer v.clientConnLock.Unlock()

	if v.clientConn == nil {
		return nil
	}

	// 发送关闭消息
	v.clientConn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	err := v.clientConn.Close()
	v.clientConn = nil
	return err
}
