package gesture

import "time"

// Timer 是可取消的一次性计时器。
type Timer interface {
	Stop() bool
}

// Scheduler 创建计时器。宿主可以把回调投递到自己的串行事件循环上。
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealScheduler 基于 time.AfterFunc，回调运行在独立的 goroutine 上。
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SchedulerFunc 让普通函数实现 Scheduler。
type SchedulerFunc func(d time.Duration, fn func()) Timer

func (f SchedulerFunc) AfterFunc(d time.Duration, fn func()) Timer {
	return f(d, fn)
}
