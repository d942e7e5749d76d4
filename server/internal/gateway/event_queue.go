package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"spotted/server/internal/gesture"
)

var (
	ErrQueueClosed = errors.New("event queue closed")
	ErrQueueFull   = errors.New("event queue full")
	// ErrSyncTimeout 表示同步任务在超时前没有执行完；任务仍留在队列中
	ErrSyncTimeout = errors.New("event queue sync timeout")
)

// Task 是在查看实例的串行循环上执行的一段工作。
type Task func(ctx context.Context) error

// EventQueue 为单个查看实例提供串行事件处理（Actor Model）
// 解决问题：
// 1. 客户端事件、计时器到期、动画帧、store 变更通知都在同一个 goroutine 上执行
// 2. 保证事件处理顺序，drag_move 不会越过 drag_end
type EventQueue struct {
	viewerID  string
	eventChan chan *queuedEvent
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    *log.Logger

	// 统计信息
	mu              sync.Mutex
	totalEvents     int64
	processedEvents int64
	droppedEvents   int64
	failedEvents    int64
}

type queuedEvent struct {
	name      string
	task      Task
	timestamp time.Time
	resultCh  chan error // 用于同步等待结果（可选）
}

const (
	// 队列容量：超过此值的事件将被丢弃（背压控制）
	defaultQueueCapacity = 100
	// 事件处理超时
	defaultEventTimeout = 10 * time.Second
	// 慢事件告警阈值
	slowEventThreshold = time.Second
)

// NewEventQueue 创建事件队列
func NewEventQueue(viewerID string, logger *log.Logger) *EventQueue {
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	eq := &EventQueue{
		viewerID:  viewerID,
		eventChan: make(chan *queuedEvent, defaultQueueCapacity),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}

	// 启动单线程事件处理器
	eq.wg.Add(1)
	go eq.processLoop()

	logger.Printf("[EventQueue] Created for viewer %s", viewerID)

	return eq
}

// Enqueue 将任务加入队列（异步，非阻塞）
func (eq *EventQueue) Enqueue(name string, task Task) error {
	select {
	case <-eq.ctx.Done():
		return ErrQueueClosed
	default:
	}

	event := &queuedEvent{
		name:      name,
		task:      task,
		timestamp: time.Now(),
	}

	select {
	case eq.eventChan <- event:
		eq.mu.Lock()
		eq.totalEvents++
		eq.mu.Unlock()
		return nil
	default:
		// 队列已满，丢弃事件（背压控制）
		eq.mu.Lock()
		eq.droppedEvents++
		eq.mu.Unlock()
		eq.logger.Printf("[EventQueue] ⚠️  Queue full, dropping event: name=%s", name)
		return ErrQueueFull
	}
}

// EnqueueSync 将任务加入队列并等待处理完成（同步）
// 注意：不能在队列自己的任务中调用，否则会等待自己。
func (eq *EventQueue) EnqueueSync(name string, task Task, timeout time.Duration) error {
	select {
	case <-eq.ctx.Done():
		return ErrQueueClosed
	default:
	}

	if timeout == 0 {
		timeout = defaultEventTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	event := &queuedEvent{
		name:      name,
		task:      task,
		timestamp: time.Now(),
		resultCh:  make(chan error, 1),
	}

	select {
	case eq.eventChan <- event:
		eq.mu.Lock()
		eq.totalEvents++
		eq.mu.Unlock()
	case <-timer.C:
		return fmt.Errorf("enqueue %s: %w", name, ErrSyncTimeout)
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}

	// 等待处理结果
	select {
	case err := <-event.resultCh:
		return err
	case <-timer.C:
		return fmt.Errorf("wait %s: %w", name, ErrSyncTimeout)
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}
}

// Dispatch 把 fn 投递到队列上执行，适合作为 feed.Options.Dispatch。
func (eq *EventQueue) Dispatch(fn func()) {
	err := eq.Enqueue("dispatch", func(context.Context) error {
		fn()
		return nil
	})
	if err != nil && !errors.Is(err, ErrQueueClosed) {
		eq.logger.Printf("[EventQueue] ⚠️  dispatch dropped for viewer %s: %v", eq.viewerID, err)
	}
}

// Scheduler 返回一个计时器回调运行在本队列上的 gesture.Scheduler。
func (eq *EventQueue) Scheduler() gesture.Scheduler {
	return gesture.SchedulerFunc(func(d time.Duration, fn func()) gesture.Timer {
		return time.AfterFunc(d, func() {
			err := eq.Enqueue("timer", func(context.Context) error {
				fn()
				return nil
			})
			if err != nil && !errors.Is(err, ErrQueueClosed) {
				eq.logger.Printf("[EventQueue] ⚠️  timer callback dropped for viewer %s: %v", eq.viewerID, err)
			}
		})
	})
}

// processLoop 串行处理事件（单线程）
func (eq *EventQueue) processLoop() {
	defer eq.wg.Done()

	eq.logger.Printf("[EventQueue] Process loop started for viewer %s", eq.viewerID)

	for {
		select {
		case <-eq.ctx.Done():
			eq.logger.Printf("[EventQueue] Process loop stopped for viewer %s", eq.viewerID)
			return

		case event := <-eq.eventChan:
			eq.processEvent(event)
		}
	}
}

// processEvent 处理单个事件
func (eq *EventQueue) processEvent(event *queuedEvent) {
	startTime := time.Now()

	// 任务上下文不随队列关闭取消，进行中的 store 写入得以完成
	ctx, cancel := context.WithTimeout(context.Background(), defaultEventTimeout)
	defer cancel()

	err := event.task(ctx)

	processingTime := time.Since(startTime)

	eq.mu.Lock()
	eq.processedEvents++
	if err != nil {
		eq.failedEvents++
	}
	eq.mu.Unlock()

	if err != nil {
		eq.logger.Printf("[EventQueue] ❌ Event processing failed: name=%s error=%v queue_latency=%v processing_time=%v",
			event.name, err, startTime.Sub(event.timestamp), processingTime)
	}

	// 如果是同步调用，返回结果
	if event.resultCh != nil {
		select {
		case event.resultCh <- err:
		default:
		}
	}

	// 监控：如果处理时间过长，记录警告
	if processingTime > slowEventThreshold {
		eq.logger.Printf("[EventQueue] ⚠️  Slow event processing: name=%s processing_time=%v",
			event.name, processingTime)
	}
}

// Close 关闭事件队列，等待正在执行的任务自然结束；未执行的任务被丢弃。
func (eq *EventQueue) Close() error {
	eq.closeOnce.Do(func() {
		eq.cancel()

		// 等待处理器退出
		eq.wg.Wait()

		// 记录统计信息
		eq.mu.Lock()
		total := eq.totalEvents
		processed := eq.processedEvents
		dropped := eq.droppedEvents
		eq.mu.Unlock()

		eq.logger.Printf("[EventQueue] Closed for viewer %s: total=%d processed=%d dropped=%d pending=%d",
			eq.viewerID, total, processed, dropped, len(eq.eventChan))
	})
	return nil
}

// Done 在队列关闭后返回的 channel 关闭。
func (eq *EventQueue) Done() <-chan struct{} {
	return eq.ctx.Done()
}

// GetStats 获取队列统计信息
func (eq *EventQueue) GetStats() map[string]interface{} {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	return map[string]interface{}{
		"viewer_id":        eq.viewerID,
		"total_events":     eq.totalEvents,
		"processed_events": eq.processedEvents,
		"failed_events":    eq.failedEvents,
		"dropped_events":   eq.droppedEvents,
		"pending_events":   len(eq.eventChan),
		"queue_capacity":   cap(eq.eventChan),
	}
}
