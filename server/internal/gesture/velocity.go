package gesture

import "time"

type sample struct {
	at  time.Time
	pos float64
}

// VelocityTracker 用最近一段时间窗口内的位移采样估算速度。
type VelocityTracker struct {
	window  time.Duration
	samples []sample
}

func NewVelocityTracker(window time.Duration) *VelocityTracker {
	return &VelocityTracker{window: window}
}

func (t *VelocityTracker) Reset() {
	t.samples = t.samples[:0]
}

// Add 记录 at 时刻的累计位移，并丢弃窗口外的旧采样。
func (t *VelocityTracker) Add(at time.Time, pos float64) {
	t.samples = append(t.samples, sample{at: at, pos: pos})
	cutoff := at.Add(-t.window)
	drop := 0
	for drop < len(t.samples)-2 && t.samples[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		t.samples = append(t.samples[:0], t.samples[drop:]...)
	}
}

// Velocity 返回 px/s；采样不足或时间跨度为 0 时返回 0。
func (t *VelocityTracker) Velocity() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	first := t.samples[0]
	last := t.samples[len(t.samples)-1]
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return (last.pos - first.pos) / dt
}
