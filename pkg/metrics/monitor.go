package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunMonitor 运行监控器，跟踪一次处理链运行的作业计数与状态
type RunMonitor struct {
	// 原子计数器
	totalJobs     atomic.Int64
	processedJobs atomic.Int64
	skippedJobs   atomic.Int64
	erroredJobs   atomic.Int64

	// 运行状态
	startTime time.Time
	endTime   time.Time
	running   atomic.Bool
	mu        sync.RWMutex

	// 阶段耗时聚合
	timing *TimingAggregator
}

// NewRunMonitor 创建运行监控器
func NewRunMonitor() *RunMonitor {
	return &RunMonitor{
		timing: NewTimingAggregator(),
	}
}

// Timing 阶段耗时聚合器
func (m *RunMonitor) Timing() *TimingAggregator {
	return m.timing
}

// Start 标记运行开始
func (m *RunMonitor) Start(totalJobs int) {
	m.mu.Lock()
	m.startTime = time.Now()
	m.endTime = time.Time{}
	m.mu.Unlock()

	m.totalJobs.Store(int64(totalJobs))
	m.processedJobs.Store(0)
	m.skippedJobs.Store(0)
	m.erroredJobs.Store(0)
	m.running.Store(true)
}

// Stop 标记运行结束
func (m *RunMonitor) Stop() {
	m.mu.Lock()
	m.endTime = time.Now()
	m.mu.Unlock()

	m.running.Store(false)
}

// RecordProcessed 记录一个完整处理的作业
// processed计数是"已尝试"语义：跳过和出错的作业同样计入
func (m *RunMonitor) RecordProcessed() {
	m.processedJobs.Add(1)
}

// RecordSkipped 记录一个良性跳过的作业，同时计入processed
func (m *RunMonitor) RecordSkipped() {
	m.processedJobs.Add(1)
	m.skippedJobs.Add(1)
}

// RecordErrored 记录一个出错的作业，同时计入processed
func (m *RunMonitor) RecordErrored() {
	m.processedJobs.Add(1)
	m.erroredJobs.Add(1)
}

// Processed 已处理作业数
func (m *RunMonitor) Processed() int64 {
	return m.processedJobs.Load()
}

// Skipped 跳过作业数
func (m *RunMonitor) Skipped() int64 {
	return m.skippedJobs.Load()
}

// Errored 出错作业数
func (m *RunMonitor) Errored() int64 {
	return m.erroredJobs.Load()
}

// IsRunning 是否正在运行
func (m *RunMonitor) IsRunning() bool {
	return m.running.Load()
}

// Duration 运行耗时，运行中返回到当前时刻的耗时
func (m *RunMonitor) Duration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.startTime.IsZero() {
		return 0
	}
	if m.endTime.IsZero() {
		return time.Since(m.startTime)
	}
	return m.endTime.Sub(m.startTime)
}

// Stats 监控统计信息
func (m *RunMonitor) Stats() map[string]interface{} {
	m.mu.RLock()
	startTime := m.startTime
	m.mu.RUnlock()

	stats := map[string]interface{}{
		"total_jobs":     m.totalJobs.Load(),
		"processed_jobs": m.processedJobs.Load(),
		"skipped_jobs":   m.skippedJobs.Load(),
		"errored_jobs":   m.erroredJobs.Load(),
		"running":        m.running.Load(),
		"duration_ms":    m.Duration().Milliseconds(),
	}
	if !startTime.IsZero() {
		stats["start_time"] = startTime.Format(time.RFC3339)
	}

	timing := make(map[string]interface{})
	for name, d := range m.timing.Snapshot() {
		timing[name] = d.Seconds()
	}
	stats["stage_elapsed_seconds"] = timing

	return stats
}
