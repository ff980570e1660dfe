package pools

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
)

// Task 任务接口
type Task func()

// BatchPoolStats 批处理池统计信息
type BatchPoolStats struct {
	Workers        int32 `json:"workers"`
	QueueLength    int   `json:"queue_length"`
	TotalTasks     int64 `json:"total_tasks"`
	ActiveTasks    int64 `json:"active_tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	FailedTasks    int64 `json:"failed_tasks"`

	// 性能指标
	AvgTaskDuration time.Duration `json:"avg_task_duration"`
	MaxTaskDuration time.Duration `json:"max_task_duration"`
}

// BatchPool 批处理协程池
// 固定worker数量的协程池，一次运行中worker数不变。
// 批次语义由调用方控制：提交一批任务后调用WaitBatch，
// 等该批全部完成再提交下一批。
type BatchPool struct {
	name    string
	workers int32

	// 工作队列
	taskQueue chan Task

	// 协程管理
	activeTask int64
	wg         sync.WaitGroup

	// 批次同步
	batchWg sync.WaitGroup

	// 生命周期管理
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	// 统计信息
	stats   BatchPoolStats
	statsMu sync.RWMutex

	// 任务时长统计
	taskDurations []time.Duration
	taskDurMu     sync.Mutex
}

// BatchPoolConfig 批处理池配置
type BatchPoolConfig struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size"`
}

// NewBatchPool 创建批处理协程池
func NewBatchPool(rootCtx context.Context, config BatchPoolConfig) *BatchPool {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers * 2
	}
	if config.Name == "" {
		config.Name = "default"
	}

	ctx, cancel := context.WithCancel(rootCtx)

	pool := &BatchPool{
		name:          config.Name,
		workers:       int32(config.Workers),
		taskQueue:     make(chan Task, config.QueueSize),
		ctx:           ctx,
		cancel:        cancel,
		taskDurations: make([]time.Duration, 0, 256),
	}

	for i := 0; i < config.Workers; i++ {
		pool.startWorker()
	}

	logger.Infof("batch pool '%s' started: workers=%d, queue=%d",
		config.Name, config.Workers, config.QueueSize)

	return pool
}

// Submit 提交任务，阻塞直到任务入队或池关闭
func (bp *BatchPool) Submit(task Task) bool {
	if task == nil {
		return false
	}

	atomic.AddInt64(&bp.stats.TotalTasks, 1)

	// 已关闭的池直接拒绝，不向已关闭的队列投递
	select {
	case <-bp.ctx.Done():
		atomic.AddInt64(&bp.stats.FailedTasks, 1)
		return false
	default:
	}

	bp.batchWg.Add(1)

	select {
	case bp.taskQueue <- task:
		return true
	case <-bp.ctx.Done():
		bp.batchWg.Done()
		atomic.AddInt64(&bp.stats.FailedTasks, 1)
		return false
	}
}

// WaitBatch 等待当前批次全部完成
func (bp *BatchPool) WaitBatch() {
	bp.batchWg.Wait()
}

// startWorker 启动一个worker
func (bp *BatchPool) startWorker() {
	bp.wg.Add(1)

	go func() {
		defer bp.wg.Done()

		for {
			select {
			case task, ok := <-bp.taskQueue:
				if !ok {
					return
				}
				bp.executeTask(task)

			case <-bp.ctx.Done():
				return
			}
		}
	}()
}

// executeTask 执行任务
// 任务panic不会拖垮worker，计入失败数后继续取下一个任务
func (bp *BatchPool) executeTask(task Task) {
	atomic.AddInt64(&bp.activeTask, 1)
	start := time.Now()

	defer func() {
		duration := time.Since(start)
		atomic.AddInt64(&bp.activeTask, -1)
		bp.recordTaskDuration(duration)
		bp.batchWg.Done()

		if r := recover(); r != nil {
			logger.Errorf("task panic in pool '%s': %v", bp.name, r)
			atomic.AddInt64(&bp.stats.FailedTasks, 1)
		} else {
			atomic.AddInt64(&bp.stats.CompletedTasks, 1)
		}
	}()

	task()
}

// recordTaskDuration 记录任务时长
func (bp *BatchPool) recordTaskDuration(duration time.Duration) {
	bp.taskDurMu.Lock()
	defer bp.taskDurMu.Unlock()

	bp.taskDurations = append(bp.taskDurations, duration)

	// 保持最近1000个任务的记录
	if len(bp.taskDurations) > 1000 {
		bp.taskDurations = bp.taskDurations[len(bp.taskDurations)-1000:]
	}
}

// GetStats 获取统计信息
func (bp *BatchPool) GetStats() BatchPoolStats {
	bp.statsMu.Lock()
	defer bp.statsMu.Unlock()

	bp.stats.Workers = bp.workers
	bp.stats.QueueLength = len(bp.taskQueue)
	bp.stats.ActiveTasks = atomic.LoadInt64(&bp.activeTask)
	bp.calculateTaskDurationStats()

	return bp.stats
}

// calculateTaskDurationStats 计算任务时长统计
func (bp *BatchPool) calculateTaskDurationStats() {
	bp.taskDurMu.Lock()
	defer bp.taskDurMu.Unlock()

	if len(bp.taskDurations) == 0 {
		return
	}

	var total time.Duration
	var maxDuration time.Duration

	for _, duration := range bp.taskDurations {
		total += duration
		if duration > maxDuration {
			maxDuration = duration
		}
	}

	bp.stats.AvgTaskDuration = total / time.Duration(len(bp.taskDurations))
	bp.stats.MaxTaskDuration = maxDuration
}

// Close 关闭协程池，等待在执行的任务退出
func (bp *BatchPool) Close() {
	bp.closeOnce.Do(func() {
		logger.Infof("closing batch pool '%s'", bp.name)

		bp.cancel()
		close(bp.taskQueue)
		bp.wg.Wait()

		logger.Infof("batch pool '%s' closed", bp.name)
	})
}
